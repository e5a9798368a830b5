// Command tallyctl is the operator CLI: manual rollups, report lookups,
// schema migrations and change event injection.
package main

func main() {
	Execute()
}

package store

import "tally/internal/core"

// Document paths, used as routing context in errors and logs.

func HouseholdPath(householdID string) string {
	return "household/" + householdID
}

func MemberPath(householdID, memberID string) string {
	return "household/" + householdID + "/members/" + memberID
}

func TaskPath(householdID, memberID, taskID string) string {
	return MemberPath(householdID, memberID) + "/tasks/" + taskID
}

func UserPath(userID string) string {
	return "users/" + userID
}

func ExpensePath(userID, expenseID string) string {
	return "users/" + userID + "/expenses/" + expenseID
}

func CategoryPath(householdID, categoryID string) string {
	return "households/" + householdID + "/categories/" + categoryID
}

func ReportPath(householdID string, month core.MonthKey) string {
	return "household/" + householdID + "/reports/" + string(month)
}

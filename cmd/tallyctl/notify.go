package main

import (
	"tally/internal/amqp"
	"tally/internal/config"
	"tally/internal/services"
)

func dialNotifier(cfg *config.Config) (services.Dispatcher, func(), error) {
	client, err := amqp.Dial(amqp.Config{URL: cfg.AMQPURL, Exchange: cfg.NotifyExchange})
	if err != nil {
		return nil, nil, err
	}
	return amqp.NewNotifier(client), func() { _ = client.Close() }, nil
}

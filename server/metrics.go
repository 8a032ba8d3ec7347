package server

import "github.com/VictoriaMetrics/metrics"

var (
	connectionsOpened = metrics.NewCounter(`miniws_server_connections_total`)
	requestsHandled   = metrics.NewCounter(`miniws_server_requests_total{outcome="replied"}`)
	requestsFailed    = metrics.NewCounter(`miniws_server_requests_total{outcome="dropped"}`)
)

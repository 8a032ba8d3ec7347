package client

import "github.com/VictoriaMetrics/metrics"

var (
	framesSent        = metrics.NewCounter(`miniws_client_frames_sent_total`)
	framesReceived    = metrics.NewCounter(`miniws_client_frames_received_total`)
	heartbeatsSent    = metrics.NewCounter(`miniws_client_heartbeats_sent_total`)
	pongsReceived     = metrics.NewCounter(`miniws_client_pongs_received_total`)
	unsolicitedQueued = metrics.NewCounter(`miniws_client_unsolicited_total`)
	protocolErrors    = metrics.NewCounter(`miniws_client_protocol_errors_total`)
	responseTimeouts  = metrics.NewCounter(`miniws_client_response_timeouts_total`)
)

package server

import (
	"context"
	"net/http"

	"go.opencensus.io/exporter/prometheus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

type Stats struct {
	prometheusExporter *prometheus.Exporter
	mSocketRequest *stats.Int64Measure
	mSocketConnection *stats.Int64Measure
	mBroadcast *stats.Int64Measure
	mRequest *stats.Int64Measure
	logger *Logger
}

func NewStatsHolder(logger *Logger) *Stats {

	mSocketRequest := stats.Int64("billiards/socket_requests", "Socket Request Count", "By")
	vSocketRequestSum := &view.View{
		Name: "billiards/socket_requests_sum",
		Measure: mSocketRequest,
		Description: "The number of total socket request",
		Aggregation: view.Sum(),
	}

	mSocketConnection := stats.Int64("billiards/socket_connection", "Socket Connection Count", "By")
	vSocketConnectionSum := &view.View{
		Name: "billiards/socket_connection_sum",
		Measure: mSocketConnection,
		Description: "The number of total socket connection",
		Aggregation: view.Sum(),
	}

	mBroadcast := stats.Int64("billiards/broadcasts", "Room Broadcast Count", "By")
	vBroadcastSum := &view.View{
		Name: "billiards/broadcasts_sum",
		Measure: mBroadcast,
		Description: "The number of total room broadcasts",
		Aggregation: view.Sum(),
	}

	mRequest := stats.Int64("billiards/requests", "Request Count", "By")
	vRequestSum := &view.View{
		Name: "billiards/requests_sum",
		Measure: mRequest,
		Description: "The number of total request",
		Aggregation: view.Sum(),
	}

	if err := view.Register(vSocketRequestSum, vSocketConnectionSum, vBroadcastSum, vRequestSum); err != nil {
		logger.Fatalw("Error while registering stat views", "error", err)
	}

	pe, err := prometheus.NewExporter(prometheus.Options{
		Namespace: "billiards",
	})
	if err != nil {
		logger.Fatalw("Error while creating new prometheus exporter", "error", err)
	}

	view.RegisterExporter(pe)

	return &Stats{
		prometheusExporter: pe,
		mSocketRequest: mSocketRequest,
		mSocketConnection: mSocketConnection,
		mBroadcast: mBroadcast,
		mRequest: mRequest,
		logger: logger,
	}

}

//Handler exposes the prometheus scrape endpoint.
func (s Stats) Handler() http.Handler {
	return s.prometheusExporter
}

func (s Stats) IncrSocketRequest(){

	ctx, _ := tag.New(context.Background())
	stats.Record(ctx, s.mSocketRequest.M(1))

}

func (s Stats) IncrRequest(){

	ctx, _ := tag.New(context.Background())
	stats.Record(ctx, s.mRequest.M(1))

}

func (s Stats) IncrBroadcast(){

	ctx, _ := tag.New(context.Background())
	stats.Record(ctx, s.mBroadcast.M(1))

}

func (s Stats) IncrSocketConnection(){

	ctx, _ := tag.New(context.Background())
	stats.Record(ctx, s.mSocketConnection.M(1))

}

func (s Stats) DecrSocketConnection(){

	ctx, _ := tag.New(context.Background())
	stats.Record(ctx, s.mSocketConnection.M(-1))

}

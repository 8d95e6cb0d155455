package tracking

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module is the shared core: store, id node, producer. Both binaries mount it.
var Module = fx.Module("tracking.module",
	fx.Provide(
		provideNode,
		NewStore,
		NewProducer,
	),
	fx.Invoke(migrate, drainProducer),
)

// Worker adds the queue consumers and the retention sweeper; only the worker
// binary mounts it.
var Worker = fx.Module("tracking.worker",
	fx.Provide(
		NewPersister,
		NewRetrier,
		NewSweeper,
		NewAggregator,
	),
	fx.Invoke(
		registerHandlers,
		StartSweeper,
	),
)

func provideNode() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		zap.L().Fatal("failed to initialize snowflake node", zap.Error(err))
	}
	return node
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&TrackingFact{})
}

func drainProducer(lc fx.Lifecycle, p *Producer) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.Drain(ctx)
		},
	})
}

func registerHandlers(mux *asynq.ServeMux, persister *Persister, retrier *Retrier) {
	mux.HandleFunc(TaskRecord, persister.HandleRecord)
	mux.HandleFunc(TaskRecordBatch, persister.HandleBatch)
	mux.HandleFunc(TaskDeadLetter, retrier.HandleEnvelope)
	mux.HandleFunc(TaskDeadLetterBatch, retrier.HandleBatch)
}

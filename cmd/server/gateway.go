package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"doctor-booking-api/internal/config"
	"doctor-booking-api/internal/gateway"
	"doctor-booking-api/internal/gateway/mongostore"
	"doctor-booking-api/internal/gateway/pgstore"
	"doctor-booking-api/internal/gateway/redisstore"
)

// openGateway connects the configured document store and starts its
// change source. The returned func ends all subscriptions and connections.
func openGateway(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) (gateway.Gateway, func(), error) {
	log := logger.Named("gateway")
	switch cfg.GatewayDriver {
	case config.DriverRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		st := redisstore.New(rdb, log)
		if err := st.Start(ctx); err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return st, func() {
			st.Close()
			_ = rdb.Close()
		}, nil

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo: %w", err)
		}
		st := mongostore.New(client.Database(cfg.MongoDatabase), log)
		if err := st.Start(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		return st, func() {
			st.Close()
			_ = client.Disconnect(context.Background())
		}, nil

	default:
		st := pgstore.New(pool, log)
		if err := st.Start(ctx, pool); err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
}

// Package redis connects to the Redis server shared by authzd instances.
//
// The server carries two things: RBAC change events published through
// notify.RedisPublisher, and the counters of the distributed denial rate
// limiter. Connect retries the initial ping so a service can start while
// Redis is still coming up:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// Healthcheck adapts a client to the readiness probe of httpserver.
package redis

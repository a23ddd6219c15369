package redis_test

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pior/redis"
	"github.com/pior/redis/codec"
	"github.com/pior/redis/resp"
)

func ExampleClient_Do() {
	client, err := redis.NewClient(redis.StaticResolver("localhost:6379"), redis.Config{
		MaxSize: 10,
	})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	ctx := context.Background()

	_, err = client.Do(ctx, "SET %s %s", "user:123", "John")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	reply, err := client.Do(ctx, "GET %s", "user:123")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(reply.Text())
}

func ExampleClient_Pipeline() {
	client, err := redis.NewClient(redis.StaticResolver("localhost:6379"), redis.Config{})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	replies, err := client.Pipeline(context.Background(), func(p *redis.Pipeline) error {
		for _, key := range []string{"a", "b", "c"} {
			if err := p.Append("INCR %s", key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	for _, reply := range replies {
		fmt.Println(reply)
	}
}

func ExampleNewSentinel() {
	sentinel, err := redis.NewSentinel(redis.SentinelConfig{
		ServiceName: "mymaster",
		Addrs:       []string{"10.0.0.1:26379", "10.0.0.2:26379", "10.0.0.3:26379"},
		Timeout:     200 * time.Millisecond,
	})
	if err != nil {
		panic(err)
	}

	// The client asks the sentinels for the primary on first use, and again
	// after a failover.
	client, err := redis.NewClient(sentinel, redis.Config{
		MaxSize:             10,
		HealthCheckInterval: 5 * time.Second,
		NewCircuitBreaker:   redis.NewCircuitBreakerConfig(3, time.Minute, 10*time.Second),
		Logger:              zap.NewExample(),
	})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	_, _ = client.Do(context.Background(), "PING")
	fmt.Println(client.Primary())
}

func ExampleConnection_Append() {
	conn, err := redis.Dial(context.Background(), "localhost:6379", redis.ConnConfig{
		ConnectTimeout: time.Second,
		Serializers:    codec.Chain(codec.Bytes(), codec.Text()),
	})
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	// Nothing is written until a reply is requested.
	_ = conn.Append("SET %s %b", "blob", []byte{0, 1, 2})
	_ = conn.Append("GET %s", "blob")

	for range 2 {
		reply, err := conn.Receive(context.Background())
		if err != nil {
			panic(err)
		}
		fmt.Println(reply)
	}
}

func ExampleConnection_RegisterSerializer() {
	conn, err := redis.Dial(context.Background(), "localhost:6379", redis.ConnConfig{})
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	conn.RegisterSerializer(codec.JSON())

	type user struct {
		Name string `json:"name"`
	}
	_, _ = conn.Send(context.Background(), "SET %s %b", "user:1", user{Name: "John"})

	reply, err := conn.Send(context.Background(), "GET %s", "user:1")
	if err != nil {
		panic(err)
	}

	var u user
	if err := codec.DecodeJSON(reply, &u); err != nil {
		panic(err)
	}
	fmt.Println(u.Name, reply.Type() == resp.TypeString)
}

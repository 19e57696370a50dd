package rq_test

import (
	"context"
	"fmt"
	"time"

	rq "github.com/DoNewsCode/core-rq"
)

func Example() {
	queue := rq.NewQueue(rq.NewInProcessDriver(), "app", "emails")
	ctx := context.Background()

	id, _ := queue.Send(ctx, map[string]string{"to": "alice@example.com"}, time.Minute)

	msg, _ := queue.Receive("worker-0").Next(ctx)
	fmt.Println(msg.ID == id)
	fmt.Println(string(msg.Data))

	_ = msg.Ack(ctx)
	info, _ := queue.Info(ctx)
	fmt.Printf("%+v\n", info)

	// Output:
	// true
	// {"to":"alice@example.com"}
	// {Ready:0 InFlight:0 Pending:0}
}

func Example_consumer() {
	bus := rq.NewBus(rq.NewQueue(rq.NewInProcessDriver(), "app", "greetings"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	bus.Register("printer", 2, rq.HandleFunc(func(ctx context.Context, msg *rq.Message) error {
		var greeting string
		if err := msg.Decode(&greeting); err != nil {
			return err
		}
		fmt.Println(greeting)
		close(done)
		return nil
	}))

	_, _ = bus.Send(ctx, "hello world", 0)
	go bus.Run(ctx)
	<-done

	// Output:
	// hello world
}

// Package rq provides a reliable, at-least-once work queue on top of a shared
// store with atomic list and hash primitives, redis by default.
//
// It is recommended to read documentation on the core package before getting started on the rq package.
//
// Introduction
//
// A message sent to the queue is not lost when the consumer that claimed it
// crashes or hangs. Every message carries a deadline. A consumer claims a
// message by atomically moving it from the ready list to the in-flight list,
// and acknowledges it once done. A reclaimer watches the in-flight list and
// moves messages whose deadline has passed back to the ready list with an
// extended deadline, so they are delivered again. Delivery is therefore at
// least once, not exactly once: handlers must be idempotent.
//
// No lock is taken anywhere. Producers, consumers and reclaimers in any number
// of processes cooperate through the atomic primitives of the store alone.
//
// Store Layout
//
// For a service and a queue name, these keys are used:
//
//  {service}:{queue}            list, ready messages
//  {service}:{queue}:ack        list, in-flight messages
//  {service}:{queue}:pending    hash, message id to latest serialized message
//  {service}:{queue}:malformed  list, entries that could not be decoded
//
// Messages are stored as JSON objects with the fields id, data, queue and
// expire_at (RFC 3339). The layout is shared with other implementations using
// the same store and must not change.
//
// Simple Usage
//
// Create a queue on a driver and send a payload. Any value the codec can
// encode will do; the default codec is JSON.
//
//  queue := rq.NewQueue(&rq.RedisDriver{RedisClient: client}, "app", "emails")
//  id, err := queue.Send(ctx, Email{To: "alice@example.com"}, 5*time.Minute)
//
// Pull messages with a Receiver and acknowledge each when done.
//
//  messages := queue.Receive("worker-0")
//  for {
//    msg, err := messages.Next(ctx)
//    // handle err
//    // process msg
//    err = msg.Ack(ctx)
//  }
//
// The Bus wraps a queue with its reclaimer and lets you register consumer
// groups. Each worker of a group competes for messages with the others.
//
//  bus := rq.NewBus(queue)
//  bus.Register("mailer", 4, rq.HandleFunc(func(ctx context.Context, msg *rq.Message) error {
//    var email Email
//    if err := msg.Decode(&email); err != nil {
//      return err
//    }
//    return send(email)
//  }))
//  go bus.Run(ctx)
//
// Integrate
//
// The rq package exports configuration in this format:
//
//  rq:
//    default:
//      redisName: default
//      pollInterval: 500ms
//      defaultTimeout: 5m
//      reclaimInterval: 5s
//      activeReclaimInterval: 10s
//      reclaimIncrement: 5m
//      scanWindow: 2
//      checkQueueLengthInterval: 15s
//
// The service defaults to the application name and the queue name to the
// configuration key. Using the bundled dependency provider, the consumers and
// the reclaimer of each configured bus are managed by the core run group.
//
//  var c *core.C
//  c.Provide(otredis.Providers()) // to provide the redis driver
//  c.Provide(rq.Providers())
//
// A module is also bundled, providing the rq command (info, send, reclaim,
// reload and flush).
//
//  c.AddModuleFunc(rq.New)
//
// To use more than one queue, inject rq.BusMaker and make a bus by name.
//
//  c.Invoke(func(maker rq.BusMaker) {
//    bus, err := maker.Make("default")
//  })
//
// Metrics
//
// To gain visibility on the length of the queues, inject a gauge into the core
// and alias it to rq.Gauge. It is labelled with "queue" and "region". Reclaimed
// messages are counted by an optional rq.Counter labelled with "queue".
package rq

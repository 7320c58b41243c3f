// Package netsync ties connections and snapshot replication into the two
// objects a game talks to: a Server driven by the simulation's tick loop
// and a Client that reconstructs and interpolates the server's world.
//
// # Server
//
// Each tick the server receives datagrams, hands inputs and connection
// events to the simulation, replicates the world it returns and flushes:
//
//	server := netsync.NewServer(sock, reg,
//	    netsync.WithConnConfig(cfg.ConnConfig()),
//	    netsync.WithStats(collector))
//
//	err := server.Run(ctx, netsync.SimulationFunc(
//	    func(ctx context.Context, tick uint32, in []netsync.Message) (replication.WorldSnapshot, error) {
//	        for _, m := range in {
//	            game.Apply(m)
//	        }
//	        return game.Snapshot(tick), nil
//	    }))
//
// Hosts with their own loop call Receive, PollInboundMessages,
// SubmitWorldSnapshot and Flush instead of Run.
//
// # Client
//
//	client := netsync.NewClient(sock, reg)
//	client.Dial(serverAddr)
//	for range ticker.C {
//	    steps, _ := client.Tick(ctx)
//	    for i := 0; i < steps; i++ {
//	        client.SendInput(client.InputTick(), readInput())
//	    }
//	    if s, ok := client.Sample(client.RenderTick()); ok {
//	        draw(s)
//	    }
//	}
//
// The client's input clock runs ahead of the server by the round trip plus
// a small lead so inputs arrive before the tick they are stamped for. It is
// steered with tick dilation and jumps only when it is far off.
package netsync

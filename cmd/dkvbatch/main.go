// Command dkvbatch runs a small end-to-end demonstration of the batch
// read core: it stands up an in-process fake node speaking the wire
// protocol, points a Client at it through a one-node PartitionMap, and
// prints what BatchRead fills in, in the same spirit as the teacher's
// cmd/df2redis orchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dkvbatch"
	"dkvbatch/internal/wire"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[dkvbatch] ")
	os.Exit(run())
}

func run() int {
	var timeout time.Duration
	flag.DurationVar(&timeout, "timeout", 2*time.Second, "total timeout for the demo batch read")
	flag.Parse()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Printf("failed to start fake node: %v", err)
		return 1
	}
	defer ln.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	names := []string{"ada", "grace", "margaret"}
	go serveFakeNode(ln, names)

	node := dkvbatch.NodeRef{ID: "node-1"}
	pmap := oneNodeMap{node: node}
	dialer := dkvbatch.NewNodeDialer(func(n dkvbatch.NodeRef) (string, error) {
		return ln.Addr().String(), nil
	}, 2, 16)
	defer dialer.Close()

	client := dkvbatch.NewClient(pmap, dialer, 4)
	defer client.Close()

	records := make([]*dkvbatch.RecordRequest, len(names))
	for i, name := range names {
		key, err := dkvbatch.NewKeyFromString("demo", "people", name)
		if err != nil {
			log.Printf("build key for %q: %v", name, err)
			return 1
		}
		records[i] = &dkvbatch.RecordRequest{Key: key, Bins: dkvbatch.AllBins()}
	}

	policy := dkvbatch.NewPolicy()
	policy.TotalTimeout = timeout

	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.BatchRead(readCtx, policy, records); err != nil {
		log.Printf("batch read failed: %v", err)
		return 1
	}

	for i, name := range names {
		r := records[i]
		if !r.Delivered {
			fmt.Printf("%s: no response\n", name)
			continue
		}
		if r.ResultCode != dkvbatch.ResultOK {
			fmt.Printf("%s: result code %d\n", name, r.ResultCode)
			continue
		}
		fmt.Printf("%s: generation=%d bins=%v\n", name, r.Record.Generation, binsOf(r.Record))
	}
	return 0
}

func binsOf(rec *dkvbatch.Record) map[string]string {
	out := make(map[string]string, len(rec.Bins))
	for name, v := range rec.Bins {
		out[name] = string(v.Raw)
	}
	return out
}

// oneNodeMap is the simplest possible PartitionMap: every partition is
// owned, AP-mode, by the same single node.
type oneNodeMap struct {
	node dkvbatch.NodeRef
}

func (m oneNodeMap) Replicas(namespace string, partitionID uint32) ([]dkvbatch.NodeRef, bool, bool) {
	return []dkvbatch.NodeRef{m.node}, false, true
}

// serveFakeNode answers every batch request on ln with a canned OK
// record per name in names, keyed by the request's batch index 0..n-1
// (true for this demo because the single node owns every key).
func serveFakeNode(ln net.Listener, names []string) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go serveConn(conn, names)
	}
}

func serveConn(conn net.Conn, names []string) {
	defer conn.Close()
	var scratch []byte
	for {
		if _, err := wire.ReadFrame(conn, &scratch); err != nil {
			return
		}
		recs := make([]wire.StubRecord, len(names))
		for i, name := range names {
			recs[i] = wire.StubRecord{
				Index:      uint32(i),
				ResultCode: wire.ResultOK,
				Generation: 1,
				TTL:        300,
				Bins:       map[string]string{"name": name},
			}
		}
		// The LAST marker is its own message and carries no record.
		recs = append(recs, wire.StubRecord{Last: true})
		if _, err := conn.Write(wire.EncodeStubResponse(recs)); err != nil {
			return
		}
	}
}

package graph

import (
	"context"
	"fmt"
	"testing"
)

// chain builds input -> echo x n -> output.
func chain(n int) *Workflow {
	nodes := []nodeSpec{{id: "in", kind: "input", cfg: Config{"value": "x"}}}
	var conns [][2]string
	prev := "in"
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("e%d", i)
		nodes = append(nodes, nodeSpec{id: id, kind: "echo"})
		conns = append(conns, [2]string{prev, id})
		prev = id
	}
	nodes = append(nodes, nodeSpec{id: "out", kind: "output"})
	conns = append(conns, [2]string{prev, "out"})
	return build(nodes, conns...)
}

// fanOut builds input -> n parallel echo nodes -> output.
func fanOut(n int) *Workflow {
	nodes := []nodeSpec{{id: "in", kind: "input", cfg: Config{"value": "x"}}, {id: "out", kind: "output"}}
	var conns [][2]string
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("e%d", i)
		nodes = append(nodes, nodeSpec{id: id, kind: "echo"})
		conns = append(conns, [2]string{"in", id}, [2]string{id, "out"})
	}
	return build(nodes, conns...)
}

func BenchmarkTopologicalOrder(b *testing.B) {
	for _, size := range []int{10, 100, 1000} {
		w := fanOut(size)
		b.Run(fmt.Sprintf("fanout-%d", size), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := TopologicalOrder(w); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkEngine_Run(b *testing.B) {
	cases := []struct {
		name string
		wf   *Workflow
		opts []Option
	}{
		{"chain-50", chain(50), nil},
		{"fanout-50", fanOut(50), nil},
		{"fanout-50-sequential", fanOut(50), []Option{WithMaxConcurrent(1)}},
	}
	for _, tc := range cases {
		e, err := New(baseRegistry(), tc.opts...)
		if err != nil {
			b.Fatal(err)
		}
		b.Run(tc.name, func(b *testing.B) {
			b.ReportAllocs()
			ctx := context.Background()
			for i := 0; i < b.N; i++ {
				res, err := e.Run(ctx, tc.wf)
				if err != nil {
					b.Fatal(err)
				}
				if res.Status != StatusCompleted {
					b.Fatalf("status = %s", res.Status)
				}
			}
		})
	}
}

package mesh

import (
	"sync"

	"github.com/gr409/pragmatic/utils"
)

/*
Communicator is the rank model the engine runs over: explicit all-to-all
buffer exchanges plus the two collective reductions the adaptation loops
need. A single-rank run uses SerialComm; multi-rank tests run ranks as
goroutines over ChannelComm.
*/
type Communicator interface {
	Rank() int
	Size() int
	// AllToAllInts sends send[p] to rank p and returns what every rank sent
	// here, indexed by source rank.
	AllToAllInts(send [][]int) (recv [][]int)
	AllToAllFloats(send [][]float64) (recv [][]float64)
	AllreduceMaxInt(x int) int
	AllreduceSumInts(x []int) []int
}

// SerialComm is the single-rank communicator.
type SerialComm struct{}

func (SerialComm) Rank() int { return 0 }
func (SerialComm) Size() int { return 1 }

func (SerialComm) AllToAllInts(send [][]int) (recv [][]int) {
	recv = make([][]int, 1)
	if len(send) > 0 {
		recv[0] = send[0]
	}
	return
}

func (SerialComm) AllToAllFloats(send [][]float64) (recv [][]float64) {
	recv = make([][]float64, 1)
	if len(send) > 0 {
		recv[0] = send[0]
	}
	return
}

func (SerialComm) AllreduceMaxInt(x int) int       { return x }
func (SerialComm) AllreduceSumInts(x []int) []int { return x }

// channelGroup is the shared state behind a set of ChannelComm ranks.
type channelGroup struct {
	np     int
	ints   *utils.MailBox[rankedInts]
	floats *utils.MailBox[rankedFloats]
	reduce [][]int

	mu      sync.Mutex
	cond    *sync.Cond
	arrived int
	phase   int
}

type rankedInts struct {
	from int
	data []int
}

type rankedFloats struct {
	from int
	data []float64
}

// ChannelComm runs a rank of an in-process group. All collective calls must
// be entered by every rank of the group.
type ChannelComm struct {
	rank int
	g    *channelGroup
}

// NewChannelComms builds an in-process communicator group of np ranks.
func NewChannelComms(np int) (comms []*ChannelComm) {
	g := &channelGroup{
		np:     np,
		ints:   utils.NewMailBox[rankedInts](np),
		floats: utils.NewMailBox[rankedFloats](np),
		reduce: make([][]int, np),
	}
	g.cond = sync.NewCond(&g.mu)
	comms = make([]*ChannelComm, np)
	for n := 0; n < np; n++ {
		comms[n] = &ChannelComm{rank: n, g: g}
	}
	return
}

func (c *ChannelComm) Rank() int { return c.rank }
func (c *ChannelComm) Size() int { return c.g.np }

// barrier blocks until every rank of the group has arrived.
func (c *ChannelComm) barrier() {
	g := c.g
	g.mu.Lock()
	phase := g.phase
	g.arrived++
	if g.arrived == g.np {
		g.arrived = 0
		g.phase++
		g.cond.Broadcast()
	} else {
		for g.phase == phase {
			g.cond.Wait()
		}
	}
	g.mu.Unlock()
}

func (c *ChannelComm) AllToAllInts(send [][]int) (recv [][]int) {
	var (
		g  = c.g
		mb = g.ints
	)
	for p := 0; p < g.np; p++ {
		if p == c.rank {
			continue
		}
		mb.PostMessage(c.rank, p, rankedInts{from: c.rank, data: append([]int{}, send[p]...)})
	}
	mb.DeliverMyMessages(c.rank)
	c.barrier()
	mb.ReceiveMyMessages(c.rank)
	recv = make([][]int, g.np)
	recv[c.rank] = append([]int{}, send[c.rank]...)
	for _, msg := range mb.ReceiveMsgQs[c.rank].Cells() {
		recv[msg.from] = msg.data
	}
	mb.ClearMyMessages(c.rank)
	c.barrier()
	return
}

func (c *ChannelComm) AllToAllFloats(send [][]float64) (recv [][]float64) {
	var (
		g  = c.g
		mb = g.floats
	)
	for p := 0; p < g.np; p++ {
		if p == c.rank {
			continue
		}
		mb.PostMessage(c.rank, p, rankedFloats{from: c.rank, data: append([]float64{}, send[p]...)})
	}
	mb.DeliverMyMessages(c.rank)
	c.barrier()
	mb.ReceiveMyMessages(c.rank)
	recv = make([][]float64, g.np)
	recv[c.rank] = append([]float64{}, send[c.rank]...)
	for _, msg := range mb.ReceiveMsgQs[c.rank].Cells() {
		recv[msg.from] = msg.data
	}
	mb.ClearMyMessages(c.rank)
	c.barrier()
	return
}

func (c *ChannelComm) AllreduceMaxInt(x int) int {
	out := c.allreduce([]int{x}, func(acc, v int) int {
		if v > acc {
			return v
		}
		return acc
	})
	return out[0]
}

func (c *ChannelComm) AllreduceSumInts(x []int) []int {
	return c.allreduce(x, func(acc, v int) int { return acc + v })
}

func (c *ChannelComm) allreduce(x []int, op func(acc, v int) int) []int {
	g := c.g
	g.mu.Lock()
	g.reduce[c.rank] = append([]int{}, x...)
	g.mu.Unlock()
	c.barrier()
	out := append([]int{}, g.reduce[0]...)
	for p := 1; p < g.np; p++ {
		for i, v := range g.reduce[p] {
			out[i] = op(out[i], v)
		}
	}
	c.barrier()
	return out
}

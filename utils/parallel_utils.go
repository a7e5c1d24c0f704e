package utils

import "fmt"

/*
DynBuffer is a growable message buffer. It keeps its backing store between
Reset calls so repeated post/deliver cycles do not reallocate.
*/
type DynBuffer[T any] struct {
	cells []T
}

func NewDynBuffer[T any](capHint int) *DynBuffer[T] {
	return &DynBuffer[T]{cells: make([]T, 0, capHint)}
}

func (db *DynBuffer[T]) Add(msg T)  { db.cells = append(db.cells, msg) }
func (db *DynBuffer[T]) Cells() []T { return db.cells }
func (db *DynBuffer[T]) Len() int   { return len(db.cells) }
func (db *DynBuffer[T]) Reset()     { db.cells = db.cells[:0] }

/*
MailBox carries messages between NP in-process ranks. Each rank posts into
its own outboxes, delivers them, then every rank drains its inbox channel.
The pattern per exchange is: for range messages {Post}; Deliver; barrier;
Receive.
*/
type MailBox[T any] struct {
	NP           int
	MessageChans []chan *DynBuffer[T]    // One for each rank
	PostMsgQs    []map[int]*DynBuffer[T] // One for each rank, key is target rank
	ReceiveMsgQs []*DynBuffer[T]         // One for each rank
	MailFlag     []bool                  // Rank has messages in outbox
}

func NewMailBox[T any](NP int) *MailBox[T] {
	mb := &MailBox[T]{
		NP:           NP,
		MessageChans: make([]chan *DynBuffer[T], NP),
		PostMsgQs:    make([]map[int]*DynBuffer[T], NP),
		ReceiveMsgQs: make([]*DynBuffer[T], NP),
		MailFlag:     make([]bool, NP),
	}
	for n := 0; n < NP; n++ {
		mb.MessageChans[n] = make(chan *DynBuffer[T], NP) // Worst case is all-to-all
		mb.PostMsgQs[n] = make(map[int]*DynBuffer[T])
		mb.ReceiveMsgQs[n] = NewDynBuffer[T](0)
	}
	return mb
}

func (mb *MailBox[T]) PostMessage(myRank, targetRank int, msg T) {
	var (
		exists bool
		tgt    *DynBuffer[T]
	)
	if tgt, exists = mb.PostMsgQs[myRank][targetRank]; !exists {
		tgt = NewDynBuffer[T](0)
		mb.PostMsgQs[myRank][targetRank] = tgt
	}
	tgt.Add(msg)
	if !mb.MailFlag[myRank] {
		mb.MailFlag[myRank] = true
	}
}

func (mb *MailBox[T]) PostMessageToAll(myRank int, msg T) {
	for k := 0; k < mb.NP; k++ {
		if k != myRank {
			mb.PostMessage(myRank, k, msg)
		}
	}
}

func (mb *MailBox[T]) DeliverMyMessages(myRank int) {
	if mb.MailFlag[myRank] {
		for targetRank, msgBuffer := range mb.PostMsgQs[myRank] {
			if targetRank < 0 || targetRank > mb.NP-1 {
				panic(fmt.Sprintf("Target rank %d out of bounds", targetRank))
			}
			mb.MessageChans[targetRank] <- msgBuffer
		}
		mb.MailFlag[myRank] = false
	}
}

func (mb *MailBox[T]) ReceiveMyMessages(myRank int) {
	for {
		select {
		case msgBuffer := <-mb.MessageChans[myRank]:
			for _, msg := range msgBuffer.Cells() {
				mb.ReceiveMsgQs[myRank].Add(msg)
			}
			msgBuffer.Reset() // Reset the originating buffer
		default:
			return
		}
	}
}

func (mb *MailBox[T]) ClearMyMessages(myRank int) {
	mb.ReceiveMsgQs[myRank].Reset()
}

type PartitionMap struct {
	MaxIndex       int // MaxIndex is partitioned into ParallelDegree partitions
	ParallelDegree int
	Partitions     [][2]int // Beginning and end index of partitions
}

func NewPartitionMap(ParallelDegree, maxIndex int) (pm *PartitionMap) {
	pm = &PartitionMap{
		MaxIndex:       maxIndex,
		ParallelDegree: ParallelDegree,
		Partitions:     make([][2]int, ParallelDegree),
	}
	for n := 0; n < ParallelDegree; n++ {
		pm.Partitions[n] = pm.Split1D(n)
	}
	return
}

func (pm *PartitionMap) GetBucketRange(bucketNum int) (kMin, kMax int) {
	kMin, kMax = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) GetBucketDimension(bn int) (kMax int) {
	if bn == -1 {
		kMax = pm.MaxIndex
		return
	}
	var (
		k1, k2 = pm.GetBucketRange(bn)
	)
	kMax = k2 - k1
	return
}

func (pm *PartitionMap) Split1D(threadNum int) (bucket [2]int) {
	// This routine splits one dimension into ParallelDegree pieces, with a maximum imbalance of one item
	var (
		Npart            = pm.MaxIndex / (pm.ParallelDegree)
		startAdd, endAdd int
		remainder        int
	)
	remainder = pm.MaxIndex % pm.ParallelDegree
	if remainder != 0 { // spread the remainder over the first chunks evenly
		if threadNum+1 > remainder {
			startAdd = remainder
			endAdd = 0
		} else {
			startAdd = threadNum
			endAdd = 1
		}
	}
	bucket[0] = threadNum*Npart + startAdd
	bucket[1] = bucket[0] + Npart + endAdd
	return
}

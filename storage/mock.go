package storage

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/itiky/list-mirror/model"
)

// GenBatches generates random valid DiffOp batches for model.ListItem lists.
// The first batch always seeds the list with a Reset, the way a remote source does for a fresh session.
func GenBatches(rnd *rand.Rand, batchesNum, opsMax, initialSize int) ([][]model.DiffOp[model.ListItem], error) {
	if batchesNum <= 0 {
		return nil, fmt.Errorf("%s: must be GT 0", "batchesNum")
	}
	if opsMax < 1 {
		return nil, fmt.Errorf("%s: must be GTE 1", "opsMax")
	}
	if initialSize < 0 {
		return nil, fmt.Errorf("%s: must be GTE 0", "initialSize")
	}

	newItem := func() model.ListItem {
		return NewListItemMock(rnd)
	}

	initial := make([]model.ListItem, 0, initialSize)
	for i := 0; i < initialSize; i++ {
		initial = append(initial, newItem())
	}

	batches := make([][]model.DiffOp[model.ListItem], 0, batchesNum)
	batches = append(batches, []model.DiffOp[model.ListItem]{model.Reset(initial...)})

	listLen := initialSize
	for i := 1; i < batchesNum; i++ {
		batch := GenValidOps(rnd, &listLen, rnd.Intn(opsMax)+1, newItem)
		batches = append(batches, batch)
	}

	return batches, nil
}

// GenValidOps generates n random operations which are valid for a list of *listLen items.
// listLen is updated to the length after all the operations are applied.
func GenValidOps[T any](rnd *rand.Rand, listLen *int, n int, newItem func() T) []model.DiffOp[T] {
	ops := make([]model.DiffOp[T], 0, n)
	for len(ops) < n {
		l := *listLen

		switch rnd.Intn(11) {
		case 0:
			items := make([]T, rnd.Intn(4)+1)
			for i := range items {
				items[i] = newItem()
			}
			ops = append(ops, model.Append(items...))
			*listLen += len(items)
		case 1:
			ops = append(ops, model.PushBack(newItem()))
			*listLen++
		case 2:
			ops = append(ops, model.PushFront(newItem()))
			*listLen++
		case 3:
			ops = append(ops, model.Insert(rnd.Intn(l+1), newItem()))
			*listLen++
		case 4:
			if l == 0 {
				continue
			}
			ops = append(ops, model.Set(rnd.Intn(l), newItem()))
		case 5:
			if l == 0 {
				continue
			}
			ops = append(ops, model.Remove[T](rnd.Intn(l)))
			*listLen--
		case 6:
			if l == 0 {
				continue
			}
			ops = append(ops, model.PopBack[T]())
			*listLen--
		case 7:
			if l == 0 {
				continue
			}
			ops = append(ops, model.PopFront[T]())
			*listLen--
		case 8:
			// Occasionally truncate above the current length (no-op)
			length := rnd.Intn(l + 2)
			ops = append(ops, model.Truncate[T](length))
			if length < l {
				*listLen = length
			}
		case 9:
			// Resets and clears are rare, otherwise lists never grow
			if rnd.Intn(10) != 0 {
				continue
			}
			items := make([]T, rnd.Intn(5))
			for i := range items {
				items[i] = newItem()
			}
			ops = append(ops, model.Reset(items...))
			*listLen = len(items)
		case 10:
			if rnd.Intn(20) != 0 {
				continue
			}
			ops = append(ops, model.Clear[T]())
			*listLen = 0
		}
	}

	return ops
}

// NewListItemMock builds a mock list item with a unique key.
func NewListItemMock(rnd *rand.Rand) model.ListItem {
	return model.ListItem{
		Id:    uuid.New().String(),
		Value: model.StorageValue(rnd.Int31()),
	}
}

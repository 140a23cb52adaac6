package segment

import (
	"testing"

	"github.com/zsiec/pgs/cursor"
	"github.com/zsiec/pgs/internal/pgstest"
)

func FuzzDecodeSupRecord(f *testing.F) {
	for _, rec := range pgstest.Epoch(pgstest.StateEpochStart, 1) {
		f.Add(pgstest.Sup(90000, 90000, rec.Type, rec.Payload))
	}
	f.Add(pgstest.Sup(0, 0, pgstest.TypeEND, nil))
	f.Add([]byte{0x50, 0x47})

	f.Fuzz(func(t *testing.T, data []byte) {
		r := cursor.New(data)
		for !r.IsEmpty() {
			before := r.Offset()
			if _, err := DecodeSupRecord(r); err != nil {
				return
			}
			if r.Offset() <= before {
				t.Fatal("decode made no progress")
			}
		}
	})
}

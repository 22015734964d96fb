package sog

import (
	"fmt"
	"io"
	"sort"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
)

// arrowBatchRows is the number of pixels per record batch.
const arrowBatchRows = 64 * 1024

// WriteArrowTable writes the N-sized rasters of a result as an Arrow IPC stream with one row
// per splat: the source point index followed by one uint32 column per raster holding the
// pixel's R, G, B, A bytes packed little-endian.  The result must come from Write with
// KeepRasters set.
func WriteArrowTable(w io.Writer, res *Result) error {
	if res == nil || res.Rasters == nil || res.Order == nil {
		return fmt.Errorf("export result has no retained rasters")
	}
	stems := make([]string, 0, len(res.Rasters))
	for stem := range res.Rasters {
		stems = append(stems, stem)
	}
	sort.Strings(stems)

	fields := []arrow.Field{{Name: "source_index", Type: arrow.PrimitiveTypes.Int64}}
	for _, stem := range stems {
		fields = append(fields, arrow.Field{Name: stem, Type: arrow.PrimitiveTypes.Uint32})
	}
	schema := arrow.NewSchema(fields, nil)

	pool := memory.NewGoAllocator()
	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(pool))
	n := len(res.Order)
	for lo := 0; lo < n; lo += arrowBatchRows {
		hi := lo + arrowBatchRows
		if hi > n {
			hi = n
		}
		if err := writeArrowBatch(writer, schema, pool, res, stems, lo, hi); err != nil {
			writer.Close()
			return err
		}
	}
	return writer.Close()
}

func writeArrowBatch(writer *ipc.Writer, schema *arrow.Schema, pool memory.Allocator, res *Result, stems []string, lo, hi int) error {
	indexBuilder := array.NewInt64Builder(pool)
	defer indexBuilder.Release()
	for k := lo; k < hi; k++ {
		indexBuilder.Append(int64(res.Order[k]))
	}
	columns := []arrow.Array{indexBuilder.NewArray()}
	defer func() {
		for _, col := range columns {
			col.Release()
		}
	}()

	for _, stem := range stems {
		r := res.Rasters[stem]
		if r.Len() < hi {
			return fmt.Errorf("raster %q has %d pixels, need %d", stem, r.Len(), hi)
		}
		b := array.NewUint32Builder(pool)
		b.Reserve(hi - lo)
		for k := lo; k < hi; k++ {
			px := r.At(k)
			b.UnsafeAppend(uint32(px[0]) | uint32(px[1])<<8 | uint32(px[2])<<16 | uint32(px[3])<<24)
		}
		columns = append(columns, b.NewArray())
		b.Release()
	}

	record := array.NewRecord(schema, columns, int64(hi-lo))
	defer record.Release()
	return writer.Write(record)
}

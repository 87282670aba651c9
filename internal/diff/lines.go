package diff

import (
	"strconv"

	"github.com/dshills/respdiff/internal/jsonvalue"
	"github.com/pmezard/go-difflib/difflib"
)

// Reconcile renders both documents canonically and reports every line that
// differs between the two texts. Aligned lines of a replace block are paired
// into a single record; the unpaired remainder is reported one-sided.
func Reconcile(left, right jsonvalue.Value) (leftLines, rightLines []string, records []Record, err error) {
	leftLines, err = jsonvalue.CanonicalLines(left)
	if err != nil {
		return nil, nil, nil, err
	}
	rightLines, err = jsonvalue.CanonicalLines(right)
	if err != nil {
		return nil, nil, nil, err
	}
	return leftLines, rightLines, LineRecords(leftLines, rightLines), nil
}

// LineRecords aligns two line sequences and converts the edit script into
// line_change records in text order.
func LineRecords(leftLines, rightLines []string) []Record {
	var records []Record
	// record position by left line index, for pairing replace blocks
	byLeft := make(map[int]int)

	m := difflib.NewMatcher(leftLines, rightLines)
	for _, op := range m.GetOpCodes() {
		if op.Tag == 'd' || op.Tag == 'r' {
			for i := op.I1; i < op.I2; i++ {
				byLeft[i] = len(records)
				records = append(records, Record{
					Path:     lineKey(i),
					Kind:     KindLineChange,
					Left:     leftLines[i],
					LineLeft: intPtr(i),
				})
			}
		}

		if op.Tag == 'i' || op.Tag == 'r' {
			for j := op.J1; j < op.J2; j++ {
				offset := j - op.J1
				if op.Tag == 'r' && offset < op.I2-op.I1 {
					if pos, ok := byLeft[op.I1+offset]; ok {
						records[pos].Right = rightLines[j]
						records[pos].LineRight = intPtr(j)
					}
					continue
				}
				records = append(records, Record{
					Path:      lineKey(j),
					Kind:      KindLineChange,
					Right:     rightLines[j],
					LineRight: intPtr(j),
				})
			}
		}
	}

	return records
}

func lineKey(i int) string {
	return "line_" + strconv.Itoa(i)
}

package diff3

// DiffType classifies a line in an edit script.
type DiffType int

const (
	Equal  DiffType = iota // Line is unchanged between a and b.
	Insert                 // Line was inserted (present in b only).
	Delete                 // Line was deleted (present in a only).
)

func (t DiffType) String() string {
	switch t {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	default:
		return "equal"
	}
}

// DiffOp is a single operation in an edit script produced by MyersDiff.
type DiffOp struct {
	Type DiffType
	Line string
}

// MyersDiff computes the shortest edit script to transform a into b
// using the Myers diff algorithm operating on whole lines. Deletions are
// ordered before insertions within a changed run.
//
// Common leading and trailing lines are peeled off first so the O((N+M)*D)
// search only runs over the differing middle.
func MyersDiff(a, b []string) []DiffOp {
	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	ops := make([]DiffOp, 0, len(a)+len(b)-prefix-suffix)
	for _, line := range a[:prefix] {
		ops = append(ops, DiffOp{Type: Equal, Line: line})
	}
	ops = append(ops, myersCore(a[prefix:len(a)-suffix], b[prefix:len(b)-suffix])...)
	for _, line := range a[len(a)-suffix:] {
		ops = append(ops, DiffOp{Type: Equal, Line: line})
	}
	if len(ops) == 0 {
		return nil
	}
	return ops
}

func myersCore(a, b []string) []DiffOp {
	n, m := len(a), len(b)
	if n == 0 && m == 0 {
		return nil
	}
	if n == 0 {
		ops := make([]DiffOp, m)
		for i, line := range b {
			ops[i] = DiffOp{Type: Insert, Line: line}
		}
		return ops
	}
	if m == 0 {
		ops := make([]DiffOp, n)
		for i, line := range a {
			ops[i] = DiffOp{Type: Delete, Line: line}
		}
		return ops
	}

	offset := n + m
	v := make([]int, 2*offset+1)

	// trace[d] holds a snapshot of v after processing edit distance d.
	var trace [][]int

	for d := 0; d <= offset; d++ {
		for k := -d; k <= d; k += 2 {
			idx := k + offset
			var x int
			if k == -d || (k != d && v[idx-1] < v[idx+1]) {
				x = v[idx+1] // down (insert)
			} else {
				x = v[idx-1] + 1 // right (delete)
			}
			y := x - k
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			v[idx] = x

			if x >= n && y >= m {
				trace = append(trace, append([]int(nil), v...))
				return backtrack(trace, a, b, d)
			}
		}
		trace = append(trace, append([]int(nil), v...))
	}
	return nil
}

// backtrack reconstructs the edit script from the trace of v snapshots.
func backtrack(trace [][]int, a, b []string, dFinal int) []DiffOp {
	offset := len(a) + len(b)
	x, y := len(a), len(b)

	var ops []DiffOp
	for d := dFinal; d > 0; d-- {
		k := x - y
		idx := k + offset
		prev := trace[d-1]

		var prevK int
		if k == -d || (k != d && prev[idx-1] < prev[idx+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := prev[prevK+offset]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			x--
			y--
			ops = append(ops, DiffOp{Type: Equal, Line: a[x]})
		}
		if k == prevK+1 {
			x--
			ops = append(ops, DiffOp{Type: Delete, Line: a[x]})
		} else {
			y--
			ops = append(ops, DiffOp{Type: Insert, Line: b[y]})
		}
	}
	for x > 0 && y > 0 {
		x--
		y--
		ops = append(ops, DiffOp{Type: Equal, Line: a[x]})
	}

	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return normalizeRuns(ops)
}

// normalizeRuns reorders each maximal non-equal run so deletions precede
// insertions. Patch hunks then read as "-old +new".
func normalizeRuns(ops []DiffOp) []DiffOp {
	out := make([]DiffOp, 0, len(ops))
	for i := 0; i < len(ops); {
		if ops[i].Type == Equal {
			out = append(out, ops[i])
			i++
			continue
		}
		j := i
		for j < len(ops) && ops[j].Type != Equal {
			j++
		}
		for _, op := range ops[i:j] {
			if op.Type == Delete {
				out = append(out, op)
			}
		}
		for _, op := range ops[i:j] {
			if op.Type == Insert {
				out = append(out, op)
			}
		}
		i = j
	}
	return out
}

package domain

// Department represents an academic department papers and admins belong to.
type Department struct {
	ID   int64
	Name string
}

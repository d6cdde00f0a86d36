package storage

// Dataset bundles the three table stores behind the point-query surface the
// similarity cache reads through.
type Dataset struct {
	users    *UserStore
	coedits  *CoeditStore
	temporal *TemporalStore
}

// NewDataset creates a Dataset over the given database.
func NewDataset(db *DB) *Dataset {
	return &Dataset{
		users:    NewUserStore(db),
		coedits:  NewCoeditStore(db),
		temporal: NewTemporalStore(db),
	}
}

// UserByText returns the metadata row for a user, or nil if absent.
func (d *Dataset) UserByText(userText string) (*UserMetadata, error) {
	return d.users.GetByUserText(userText)
}

// CoeditsByText returns all coedit rows with the given subject.
func (d *Dataset) CoeditsByText(userText string) ([]Coedit, error) {
	return d.coedits.ListByUserText(userText)
}

// TemporalByText returns all temporal bucket rows for a user.
func (d *Dataset) TemporalByText(userText string) ([]Temporal, error) {
	return d.temporal.ListByUserText(userText)
}

package appender

import (
	"fmt"

	"txlog/pkg/dberrors"
	"txlog/pkg/txstate"
)

// IDGenerator resolves the committing transaction id for one pending
// transaction. externalID is the pre-assigned id carried by the transaction,
// or 0 when it originates locally.
//
// ValidateID runs for every transaction of a batch, in batch order, before
// any id is consumed; offset is how many transactions precede this one in
// the batch. A non-nil error rejects the whole batch with nothing written
// and no ids consumed. NextID then resolves the id once the whole batch
// validated.
type IDGenerator interface {
	ValidateID(externalID int64, offset int) error
	NextID(externalID int64) (int64, error)
}

// StoreIDGenerator mints fresh ids from the id store for transactions
// originating at this instance.
type StoreIDGenerator struct {
	store *txstate.TransactionIDStore
}

func NewStoreIDGenerator(store *txstate.TransactionIDStore) *StoreIDGenerator {
	return &StoreIDGenerator{store: store}
}

func (g *StoreIDGenerator) ValidateID(int64, int) error {
	return nil
}

func (g *StoreIDGenerator) NextID(int64) (int64, error) {
	return g.store.NextCommittingTransactionID(), nil
}

// ExternalIDValidator is used for transactions that already carry a commit
// id, e.g. replayed from an external ordered source. The carried id must be
// exactly the next expected committing id; accepting anything else would
// punch a hole in the committed sequence that the gap-free closed tracker
// could never close. A batch validated this way must consist solely of
// externally ordered transactions, each minting one id.
type ExternalIDValidator struct {
	store *txstate.TransactionIDStore
}

func NewExternalIDValidator(store *txstate.TransactionIDStore) *ExternalIDValidator {
	return &ExternalIDValidator{store: store}
}

func (v *ExternalIDValidator) ValidateID(externalID int64, offset int) error {
	expected := v.store.CommittingTransactionID() + 1 + int64(offset)
	if externalID != expected {
		return fmt.Errorf(
			"%w: transaction carries commit id %d to be applied, but the next id in the commit sequence is %d",
			dberrors.ErrOrderingViolation, externalID, expected)
	}
	return nil
}

func (v *ExternalIDValidator) NextID(externalID int64) (int64, error) {
	minted := v.store.NextCommittingTransactionID()
	if minted != externalID {
		return 0, fmt.Errorf(
			"%w: transaction carries commit id %d to be applied, but appending it ended up generating an id %d",
			dberrors.ErrOrderingViolation, externalID, minted)
	}
	return minted, nil
}

// NopIDGenerator neither assigns nor validates; the transaction keeps
// whatever id it carries.
type NopIDGenerator struct{}

func (NopIDGenerator) ValidateID(int64, int) error {
	return nil
}

func (NopIDGenerator) NextID(externalID int64) (int64, error) {
	return externalID, nil
}

package choreography

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"libranexus/internal/catalog"
	"libranexus/internal/circulation"
	"libranexus/internal/membership"
	"libranexus/internal/membership/wallet"
	"libranexus/pkg/apperror"
	"libranexus/pkg/eventbus"
	"libranexus/pkg/eventstore"
	"libranexus/pkg/projection"
)

// newTestBus dials a real broker from RABBIT_MQ_URL/RABBIT_MQ_PORT, skipping
// the test when unreachable — mirrors pkg/eventbus's own test setup.
func newTestBus(t *testing.T, service string) *eventbus.Bus {
	t.Helper()
	cfg := eventbus.FromEnv(service)
	cfg.Environment = "test"

	b := eventbus.New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Init(ctx); err != nil {
		t.Skipf("rabbitmq unavailable, skipping: %v", err)
	}
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })
	return b
}

// fakeCatalog implements catalog.Service with a single preloaded book.
type fakeCatalog struct {
	book *catalog.Book
}

func (f *fakeCatalog) AddBook(ctx context.Context, isbn, title, author, publisher string, year int, price float64, total int) (*catalog.Book, error) {
	return nil, nil
}
func (f *fakeCatalog) UpdateBook(ctx context.Context, id string, patch catalog.BookUpdated) (*catalog.Book, error) {
	return nil, nil
}
func (f *fakeCatalog) RemoveBook(ctx context.Context, id string) error { return nil }
func (f *fakeCatalog) ChangeCopies(ctx context.Context, id string, total, available int) (*catalog.Book, error) {
	return nil, nil
}
func (f *fakeCatalog) GetBook(ctx context.Context, id string) (*catalog.Book, error) {
	if f.book == nil || f.book.ID != id {
		return nil, apperror.New(apperror.CodeNotFound, "book not found", nil)
	}
	return f.book, nil
}
func (f *fakeCatalog) ListBooks(ctx context.Context, page, limit int) (projection.Page[catalog.Book], error) {
	return projection.Page[catalog.Book]{}, nil
}
func (f *fakeCatalog) Search(ctx context.Context, query string) ([]catalog.Book, error) { return nil, nil }

// fakeReservations implements circulation.Service recording the last call
// made to each command, for assertions without a real event store.
type fakeReservations struct {
	reservation    circulation.Reservation
	updatedPrice   *float64
	markedPending  bool
	rejectedReason string
	confirmed      bool
	boughtMessage  string
}

func (f *fakeReservations) CreateReservation(ctx context.Context, bookID, memberID string) (circulation.Reservation, error) {
	return circulation.Reservation{}, nil
}
func (f *fakeReservations) MarkPendingPayment(ctx context.Context, id string) (circulation.Reservation, error) {
	f.markedPending = true
	return f.reservation, nil
}
func (f *fakeReservations) Confirm(ctx context.Context, id string) (circulation.Reservation, error) {
	f.confirmed = true
	return f.reservation, nil
}
func (f *fakeReservations) Reject(ctx context.Context, id, reason string) (circulation.Reservation, error) {
	f.rejectedReason = reason
	return f.reservation, nil
}
func (f *fakeReservations) UpdateRetailPrice(ctx context.Context, id string, price float64) (circulation.Reservation, error) {
	f.updatedPrice = &price
	return f.reservation, nil
}
func (f *fakeReservations) MarkBorrowed(ctx context.Context, id string, dueDate time.Time) (circulation.Reservation, error) {
	return f.reservation, nil
}
func (f *fakeReservations) MarkLate(ctx context.Context, id string) (circulation.Reservation, error) {
	return f.reservation, nil
}
func (f *fakeReservations) Cancel(ctx context.Context, id string) (circulation.Reservation, error) {
	return f.reservation, nil
}
func (f *fakeReservations) Return(ctx context.Context, id string, now time.Time, perDayFee float64) (circulation.Reservation, error) {
	return f.reservation, nil
}
func (f *fakeReservations) MarkBookBrought(ctx context.Context, id, message string) (circulation.Reservation, error) {
	f.boughtMessage = message
	return f.reservation, nil
}
func (f *fakeReservations) GetReservation(ctx context.Context, id string) (circulation.Reservation, error) {
	return f.reservation, nil
}
func (f *fakeReservations) ListByMember(ctx context.Context, memberID string, page, limit int) (projection.Page[circulation.Reservation], error) {
	return projection.Page[circulation.Reservation]{}, nil
}

// fakeWallet implements wallet.Service with a fixed balance. With bus set,
// a successful Debit publishes WALLET_DEBITED as the real wallet service does.
type fakeWallet struct {
	balance       float64
	opened        []string
	debitedAmount float64
	bus           *eventbus.Bus
}

func (f *fakeWallet) OpenWallet(ctx context.Context, memberID string) (wallet.Wallet, error) {
	f.opened = append(f.opened, memberID)
	return wallet.Wallet{MemberID: memberID}, nil
}
func (f *fakeWallet) Credit(ctx context.Context, memberID string, amount float64, reason string) (wallet.Wallet, error) {
	f.balance += amount
	return wallet.Wallet{MemberID: memberID, Balance: f.balance}, nil
}
func (f *fakeWallet) Debit(ctx context.Context, memberID string, amount float64, reservationID string) (wallet.Wallet, error) {
	if f.balance < amount {
		return wallet.Wallet{}, apperror.New(apperror.CodeValidation, "insufficient wallet balance", nil)
	}
	f.balance -= amount
	f.debitedAmount = amount
	if f.bus != nil {
		evt, err := eventstore.NewEvent(memberID, EventWalletDebited, 1,
			WalletDebitedPayload{Amount: amount, ReservationID: reservationID})
		if err != nil {
			return wallet.Wallet{}, err
		}
		if err := f.bus.Publish(ctx, evt); err != nil {
			return wallet.Wallet{}, err
		}
	}
	return wallet.Wallet{MemberID: memberID, Balance: f.balance}, nil
}
func (f *fakeWallet) GetByMemberID(ctx context.Context, memberID string) (wallet.Wallet, error) {
	return wallet.Wallet{MemberID: memberID, Balance: f.balance}, nil
}

func TestBookValidationSucceedsForAvailableCopy(t *testing.T) {
	bus := newTestBus(t, "choreography-validate-ok-"+os.Getenv("TEST_RUN_ID"))
	books := &fakeCatalog{book: &catalog.Book{ID: "book-1", Available: 2, RetailPrice: 14.99}}
	require.NoError(t, RegisterCatalogHandlers(bus, books))

	result := make(chan eventstore.DomainEvent, 1)
	require.NoError(t, bus.Subscribe(EventBookValidationResult, func(ctx context.Context, e eventstore.DomainEvent) error {
		result <- e
		return nil
	}))
	require.NoError(t, bus.StartConsuming(context.Background()))

	evt, err := eventstore.NewEvent("res-1", EventReservationCreated, 1,
		ReservationCreatedPayload{BookID: "book-1", MemberID: "member-1"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), evt))

	select {
	case got := <-result:
		require.Equal(t, "res-1", got.AggregateID)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for BOOK_VALIDATION_RESULT")
	}
}

func TestBookValidationFailsForMissingBook(t *testing.T) {
	bus := newTestBus(t, "choreography-validate-miss-"+os.Getenv("TEST_RUN_ID"))
	books := &fakeCatalog{}
	require.NoError(t, RegisterCatalogHandlers(bus, books))

	failed := make(chan eventstore.DomainEvent, 1)
	require.NoError(t, bus.Subscribe(EventReservationBookValidationFailed, func(ctx context.Context, e eventstore.DomainEvent) error {
		failed <- e
		return nil
	}))
	require.NoError(t, bus.StartConsuming(context.Background()))

	evt, err := eventstore.NewEvent("res-2", EventReservationCreated, 1,
		ReservationCreatedPayload{BookID: "missing", MemberID: "member-1"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), evt))

	select {
	case got := <-failed:
		require.Equal(t, "res-2", got.AggregateID)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for RESERVATION_BOOK_VALIDATION_FAILED")
	}
}

func TestWalletDebitsOnPendingPaymentAndConfirms(t *testing.T) {
	bus := newTestBus(t, "choreography-payment-ok-"+os.Getenv("TEST_RUN_ID"))
	wallets := &fakeWallet{balance: 100, bus: bus}
	reservations := &fakeReservations{}

	require.NoError(t, RegisterWalletHandlers(bus, wallets))
	require.NoError(t, RegisterReservationPaymentHandlers(bus, reservations))
	require.NoError(t, bus.StartConsuming(context.Background()))

	evt, err := eventstore.NewEvent("res-3", EventReservationPendingPayment, 1,
		ReservationPendingPaymentPayload{MemberID: "member-1", RetailPrice: 20})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), evt))

	require.Eventually(t, func() bool { return reservations.confirmed }, 3*time.Second, 50*time.Millisecond)
	require.Equal(t, 20.0, wallets.debitedAmount)
}

func TestWalletDeclinesPaymentOnInsufficientBalance(t *testing.T) {
	bus := newTestBus(t, "choreography-payment-declined-"+os.Getenv("TEST_RUN_ID"))
	wallets := &fakeWallet{balance: 5}
	reservations := &fakeReservations{}

	require.NoError(t, RegisterWalletHandlers(bus, wallets))
	require.NoError(t, RegisterReservationPaymentHandlers(bus, reservations))
	require.NoError(t, bus.StartConsuming(context.Background()))

	evt, err := eventstore.NewEvent("res-4", EventReservationPendingPayment, 1,
		ReservationPendingPaymentPayload{MemberID: "member-1", RetailPrice: 20})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), evt))

	require.Eventually(t, func() bool { return reservations.rejectedReason != "" }, 3*time.Second, 50*time.Millisecond)
}

func TestLateFeeReachingRetailPriceMarksBookBrought(t *testing.T) {
	bus := newTestBus(t, "choreography-latefee-"+os.Getenv("TEST_RUN_ID"))
	reservations := &fakeReservations{reservation: circulation.Reservation{RetailPrice: 10}}
	require.NoError(t, RegisterLateFeeHandlers(bus, reservations))
	require.NoError(t, bus.StartConsuming(context.Background()))

	evt, err := eventstore.NewEvent("res-5", EventReservationReturned, 1,
		ReservationReturnedPayload{DaysLate: 20, LateFeeApplied: 15})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), evt))

	require.Eventually(t, func() bool { return reservations.boughtMessage != "" }, 3*time.Second, 50*time.Millisecond)
}

func TestWalletProvisioningOpensWalletOnMemberRegistered(t *testing.T) {
	bus := newTestBus(t, "choreography-provision-"+os.Getenv("TEST_RUN_ID"))
	wallets := &fakeWallet{}
	require.NoError(t, RegisterWalletProvisioningHandlers(bus, wallets))
	require.NoError(t, bus.StartConsuming(context.Background()))

	evt, err := eventstore.NewEvent("member-1", membership.EventMemberRegistered, 1,
		membership.MemberRegistered{Email: "a@example.com", Name: "A"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), evt))

	require.Eventually(t, func() bool { return len(wallets.opened) == 1 }, 3*time.Second, 50*time.Millisecond)
	require.Equal(t, "member-1", wallets.opened[0])
}

package giftcard

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fernshop/admingate/internal/metrics"
	"github.com/fernshop/admingate/internal/model"
)

// memoryStore is an in-memory Store. ApplyTransaction serializes through a
// single mutex, which is the same guarantee the row lock gives.
type memoryStore struct {
	mu    sync.Mutex
	cards map[uuid.UUID]model.GiftCard
	txns  map[uuid.UUID][]model.GiftCardTransaction

	// forceDuplicate makes Create collide until the counter runs out.
	forceDuplicate int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		cards: make(map[uuid.UUID]model.GiftCard),
		txns:  make(map[uuid.UUID][]model.GiftCardTransaction),
	}
}

func (s *memoryStore) Create(_ context.Context, card model.GiftCard, activation model.GiftCardTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forceDuplicate > 0 {
		s.forceDuplicate--
		return model.ErrDuplicateCode
	}
	for _, existing := range s.cards {
		if existing.Code == card.Code {
			return model.ErrDuplicateCode
		}
	}
	s.cards[card.ID] = card
	s.txns[card.ID] = []model.GiftCardTransaction{activation}
	return nil
}

func (s *memoryStore) GetByCode(_ context.Context, code string) (model.GiftCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cards {
		if c.Code == code {
			return c, nil
		}
	}
	return model.GiftCard{}, model.ErrNotFound
}

func (s *memoryStore) GetByID(_ context.Context, id uuid.UUID) (model.GiftCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return model.GiftCard{}, model.ErrNotFound
	}
	return c, nil
}

func (s *memoryStore) List(_ context.Context, limit, offset int) ([]model.GiftCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.GiftCard, 0, len(s.cards))
	for _, c := range s.cards {
		out = append(out, c)
	}
	return out, nil
}

func (s *memoryStore) Transactions(_ context.Context, cardID uuid.UUID) ([]model.GiftCardTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.GiftCardTransaction(nil), s.txns[cardID]...), nil
}

func (s *memoryStore) ApplyTransaction(_ context.Context, cardID uuid.UUID, fn ApplyFunc) (model.GiftCard, model.GiftCardTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.cards[cardID]
	if !ok {
		return model.GiftCard{}, model.GiftCardTransaction{}, model.ErrNotFound
	}
	txn, err := fn(&card)
	if err != nil {
		return model.GiftCard{}, model.GiftCardTransaction{}, err
	}
	card.UpdatedAt = txn.CreatedAt
	s.cards[cardID] = card
	s.txns[cardID] = append(s.txns[cardID], txn)
	return card, txn, nil
}

func newTestService(store Store) *Service {
	return New(store, nil, metrics.New())
}

// ledgerBalance recomputes the balance from the transaction history.
func ledgerBalance(t *testing.T, store *memoryStore, cardID uuid.UUID) model.Pence {
	t.Helper()
	var sum model.Pence
	for _, txn := range store.txns[cardID] {
		sum += txn.Amount
	}
	return sum
}

func mustCreate(t *testing.T, svc *Service, balance model.Pence, expires *time.Time) model.GiftCard {
	t.Helper()
	card, err := svc.Create(context.Background(), CreateInput{
		InitialBalance: balance,
		ExpiresAt:      expires,
		Source:         "admin",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return card
}

func TestCreateWritesActivation(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)

	card := mustCreate(t, svc, 5000, nil)
	if card.Status != model.GiftCardActive {
		t.Fatalf("status = %s", card.Status)
	}
	if card.CurrentBalance != 5000 || card.InitialBalance != 5000 {
		t.Fatalf("balances = %d/%d", card.CurrentBalance, card.InitialBalance)
	}

	matched, _ := regexp.MatchString(`^GC(-[A-Z2-9]{4}){3}$`, card.Code)
	if !matched {
		t.Fatalf("code %q does not match the GC-XXXX-XXXX-XXXX shape", card.Code)
	}

	txns := store.txns[card.ID]
	if len(txns) != 1 || txns[0].Type != model.TxnActivation || txns[0].Amount != 5000 {
		t.Fatalf("activation ledger = %+v", txns)
	}
	if got := ledgerBalance(t, store, card.ID); got != card.CurrentBalance {
		t.Fatalf("ledger sum %d != balance %d", got, card.CurrentBalance)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc := newTestService(newMemoryStore())

	if _, err := svc.Create(context.Background(), CreateInput{InitialBalance: 0}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero balance error = %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateInput{InitialBalance: -100}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative balance error = %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if _, err := svc.Create(context.Background(), CreateInput{InitialBalance: 100, ExpiresAt: &past}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("past expiry error = %v", err)
	}
}

func TestCreateRetriesCollisions(t *testing.T) {
	store := newMemoryStore()
	store.forceDuplicate = 3
	svc := newTestService(store)

	card := mustCreate(t, svc, 1000, nil)
	if card.Code == "" {
		t.Fatal("no code after retries")
	}

	store.forceDuplicate = 1000
	if _, err := svc.Create(context.Background(), CreateInput{InitialBalance: 1000}); !errors.Is(err, ErrCodeExhausted) {
		t.Fatalf("persistent collisions error = %v", err)
	}
}

func TestValidateComputesApplicable(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	card := mustCreate(t, svc, 5000, nil)

	// Balance above the subtotal: card covers the whole order.
	res, err := svc.Validate(context.Background(), card.Code, 3000)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Applicable != 3000 || res.RemainingAfterUse != 2000 || !res.CoversFullOrder {
		t.Fatalf("result = %+v", res)
	}

	// Subtotal above the balance: everything applies, order not covered.
	res, err = svc.Validate(context.Background(), card.Code, 8000)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Applicable != 5000 || res.RemainingAfterUse != 0 || res.CoversFullOrder {
		t.Fatalf("result = %+v", res)
	}
}

func TestValidateCanonicalizesCode(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	card := mustCreate(t, svc, 5000, nil)

	lower := "  " + strings.ToLower(card.Code) + " "
	if _, err := svc.Validate(context.Background(), lower, 100); err != nil {
		t.Fatalf("Validate(lowercased) = %v", err)
	}
	if _, err := svc.Validate(context.Background(), "GC-ZZZZ-ZZZZ-ZZZZ", 100); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("unknown code error = %v", err)
	}
}

func TestValidateExpiresLazily(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)

	future := time.Now().Add(time.Hour)
	card := mustCreate(t, svc, 5000, &future)

	// Move the service clock past the expiry.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := svc.Validate(context.Background(), card.Code, 1000)
	var notActive *NotActiveError
	if !errors.As(err, &notActive) || notActive.Reason != model.GiftCardExpired {
		t.Fatalf("Validate after expiry = %v", err)
	}

	stored, _ := store.GetByID(context.Background(), card.ID)
	if stored.Status != model.GiftCardExpired || stored.CurrentBalance != 0 {
		t.Fatalf("card after lazy expiry = %+v", stored)
	}
	if got := ledgerBalance(t, store, card.ID); got != 0 {
		t.Fatalf("ledger sum after expiry = %d", got)
	}
	txns := store.txns[card.ID]
	last := txns[len(txns)-1]
	if last.Type != model.TxnExpiration || last.Amount != -5000 || last.PostBalance != 0 {
		t.Fatalf("expiration entry = %+v", last)
	}
}

func TestRedeemDecrementsAndDepletes(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	card := mustCreate(t, svc, 5000, nil)

	after, err := svc.Redeem(context.Background(), card.Code, 3000, "order-17")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if after.CurrentBalance != 2000 || after.Status != model.GiftCardActive {
		t.Fatalf("card after partial redemption = %+v", after)
	}

	after, err = svc.Redeem(context.Background(), card.Code, 2000, "order-18")
	if err != nil {
		t.Fatalf("Redeem to zero: %v", err)
	}
	if after.CurrentBalance != 0 || after.Status != model.GiftCardDepleted {
		t.Fatalf("card after full redemption = %+v", after)
	}

	if got := ledgerBalance(t, store, card.ID); got != 0 {
		t.Fatalf("ledger sum = %d", got)
	}

	// Depleted cards refuse further redemption.
	_, err = svc.Redeem(context.Background(), card.Code, 1, "order-19")
	var notActive *NotActiveError
	if !errors.As(err, &notActive) || notActive.Reason != model.GiftCardDepleted {
		t.Fatalf("redeem on depleted = %v", err)
	}
}

func TestRedeemRejectsOverdraft(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	card := mustCreate(t, svc, 1000, nil)

	if _, err := svc.Redeem(context.Background(), card.Code, 1001, "order-1"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("overdraft error = %v", err)
	}
	if _, err := svc.Redeem(context.Background(), card.Code, 0, "order-1"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero redemption error = %v", err)
	}

	stored, _ := store.GetByID(context.Background(), card.ID)
	if stored.CurrentBalance != 1000 {
		t.Fatalf("balance moved on rejected redemption: %d", stored.CurrentBalance)
	}
	if len(store.txns[card.ID]) != 1 {
		t.Fatal("rejected redemption left a ledger entry")
	}
}

func TestRedeemSerializesConcurrentUse(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	card := mustCreate(t, svc, 1000, nil)

	var wg sync.WaitGroup
	successes := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Redeem(context.Background(), card.Code, 100, "order-n"); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	n := 0
	for range successes {
		n++
	}
	if n != 10 {
		t.Fatalf("%d redemptions of 100 succeeded on a 1000 balance", n)
	}

	stored, _ := store.GetByID(context.Background(), card.ID)
	if stored.CurrentBalance != 0 || stored.Status != model.GiftCardDepleted {
		t.Fatalf("card after concurrent redemption = %+v", stored)
	}
	if got := ledgerBalance(t, store, card.ID); got != 0 {
		t.Fatalf("ledger sum = %d", got)
	}
}

func TestAdjustSetsBalance(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	card := mustCreate(t, svc, 5000, nil)
	actor := uuid.New()

	after, err := svc.Adjust(context.Background(), card.ID, 1500, "goodwill", &actor)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if after.CurrentBalance != 1500 || after.Status != model.GiftCardActive {
		t.Fatalf("card = %+v", after)
	}

	txns := store.txns[card.ID]
	last := txns[len(txns)-1]
	if last.Type != model.TxnAdjustment || last.Amount != -3500 || last.PostBalance != 1500 {
		t.Fatalf("adjustment entry = %+v", last)
	}
	if last.ActorID == nil || *last.ActorID != actor {
		t.Fatal("adjustment entry missing actor")
	}

	// Down to zero flips the card to depleted; back up reactivates it.
	if after, err = svc.Adjust(context.Background(), card.ID, 0, "", &actor); err != nil || after.Status != model.GiftCardDepleted {
		t.Fatalf("adjust to zero = %+v, %v", after, err)
	}
	if after, err = svc.Adjust(context.Background(), card.ID, 2000, "", &actor); err != nil || after.Status != model.GiftCardActive {
		t.Fatalf("adjust back up = %+v, %v", after, err)
	}
	if got := ledgerBalance(t, store, card.ID); got != after.CurrentBalance {
		t.Fatalf("ledger sum %d != balance %d", got, after.CurrentBalance)
	}
}

func TestAdjustBounds(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	card := mustCreate(t, svc, 5000, nil)

	if _, err := svc.Adjust(context.Background(), card.ID, -1, "", nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative target error = %v", err)
	}
	if _, err := svc.Adjust(context.Background(), card.ID, 5001, "", nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("above-initial target error = %v", err)
	}
}

func TestCancelZeroesBalance(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	card := mustCreate(t, svc, 5000, nil)
	actor := uuid.New()

	after, err := svc.Cancel(context.Background(), card.ID, &actor)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if after.Status != model.GiftCardCancelled || after.CurrentBalance != 0 {
		t.Fatalf("card after cancel = %+v", after)
	}
	if got := ledgerBalance(t, store, card.ID); got != 0 {
		t.Fatalf("ledger sum after cancel = %d", got)
	}

	// Terminal states refuse everything.
	if _, err := svc.Cancel(context.Background(), card.ID, &actor); !errors.Is(err, ErrCardTerminal) {
		t.Fatalf("double cancel error = %v", err)
	}
	if _, err := svc.Adjust(context.Background(), card.ID, 100, "", &actor); !errors.Is(err, ErrCardTerminal) {
		t.Fatalf("adjust after cancel error = %v", err)
	}
	var notActive *NotActiveError
	if _, err := svc.Redeem(context.Background(), card.Code, 100, "order-1"); !errors.As(err, &notActive) {
		t.Fatalf("redeem after cancel error = %v", err)
	}
}

func TestGetReturnsLedger(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	card := mustCreate(t, svc, 5000, nil)
	if _, err := svc.Redeem(context.Background(), card.Code, 1000, "order-1"); err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	got, txns, err := svc.Get(context.Background(), card.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CurrentBalance != 4000 || len(txns) != 2 {
		t.Fatalf("Get = %+v with %d txns", got, len(txns))
	}
}

func TestCanonicalize(t *testing.T) {
	if got := Canonicalize("  gc-ab2c-de3f-gh4j\t"); got != "GC-AB2C-DE3F-GH4J" {
		t.Fatalf("Canonicalize = %q", got)
	}
}

package engine

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"bank_system/internal/auth"
	"bank_system/internal/domain"
	"bank_system/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testPassword = "correct-horse"

// newTestDB opens an in-memory sqlite database. The pool is capped at
// one connection so concurrent transactions serialize the way row
// locks serialize them on MySQL.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.User{}, &domain.Account{}, &domain.Transaction{}))
	return db
}

func newTestEngine(t *testing.T, db *gorm.DB) *Engine {
	t.Helper()
	return New(db, store.NewAccountStore(db), auth.NewVerifier(db))
}

func seedUser(t *testing.T, db *gorm.DB, username string) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	u := &domain.User{Username: username, Email: username + "@example.com", Password: string(hash)}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedAccount(t *testing.T, db *gorm.DB, userID uint, number, balance string) *domain.Account {
	t.Helper()
	a := &domain.Account{
		UserID:        userID,
		AccountType:   "checking",
		AccountNumber: number,
		Balance:       dec(balance),
	}
	require.NoError(t, db.Create(a).Error)
	return a
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func reload(t *testing.T, db *gorm.DB, id uint) *domain.Account {
	t.Helper()
	var a domain.Account
	require.NoError(t, db.First(&a, id).Error)
	return &a
}

func ledgerCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&domain.Transaction{}).Count(&n).Error)
	return n
}

func TestDepositCreditsAndRecords(t *testing.T) {
	db := newTestDB(t)
	eng := newTestEngine(t, db)
	u := seedUser(t, db, "alice")
	a := seedAccount(t, db, u.ID, "ACC-1", "0.00")

	tr, err := eng.Apply(context.Background(), ApplyInput{
		ActorUserID:     u.ID,
		Type:            domain.TxDeposit,
		ToAccountID:     &a.ID,
		Amount:          dec("500.00"),
		Description:     "payday",
		ConfirmPassword: testPassword,
	})
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, domain.TxDeposit, tr.Type)
	assert.Nil(t, tr.FromAccountID)
	require.NotNil(t, tr.ToAccountID)
	assert.Equal(t, a.ID, *tr.ToAccountID)
	assert.True(t, tr.Amount.Equal(dec("500.00")))
	assert.NotZero(t, tr.ID)
	assert.False(t, tr.CreatedAt.IsZero())

	assert.True(t, reload(t, db, a.ID).Balance.Equal(dec("500.00")))
	assert.EqualValues(t, 1, ledgerCount(t, db))
}

func TestWithdrawalInsufficientFunds(t *testing.T) {
	db := newTestDB(t)
	eng := newTestEngine(t, db)
	u := seedUser(t, db, "alice")
	a := seedAccount(t, db, u.ID, "ACC-1", "500.00")

	_, err := eng.Apply(context.Background(), ApplyInput{
		ActorUserID:     u.ID,
		Type:            domain.TxWithdrawal,
		FromAccountID:   &a.ID,
		Amount:          dec("600.00"),
		ConfirmPassword: testPassword,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// No mutation and no ledger row on failure
	assert.True(t, reload(t, db, a.ID).Balance.Equal(dec("500.00")))
	assert.EqualValues(t, 0, ledgerCount(t, db))
}

func TestWithdrawalDebits(t *testing.T) {
	db := newTestDB(t)
	eng := newTestEngine(t, db)
	u := seedUser(t, db, "alice")
	a := seedAccount(t, db, u.ID, "ACC-1", "500.00")

	tr, err := eng.Apply(context.Background(), ApplyInput{
		ActorUserID:     u.ID,
		Type:            domain.TxWithdrawal,
		FromAccountID:   &a.ID,
		Amount:          dec("120.50"),
		ConfirmPassword: testPassword,
	})
	require.NoError(t, err)
	assert.Nil(t, tr.ToAccountID)
	require.NotNil(t, tr.FromAccountID)
	assert.Equal(t, a.ID, *tr.FromAccountID)
	assert.True(t, reload(t, db, a.ID).Balance.Equal(dec("379.50")))
}

func TestTransferConservation(t *testing.T) {
	db := newTestDB(t)
	eng := newTestEngine(t, db)
	u := seedUser(t, db, "alice")
	a := seedAccount(t, db, u.ID, "ACC-A", "500.00")
	b := seedAccount(t, db, u.ID, "ACC-B", "0.00")
	sumBefore := dec("500.00")

	tr, err := eng.Apply(context.Background(), ApplyInput{
		ActorUserID:     u.ID,
		Type:            domain.TxTransfer,
		FromAccountID:   &a.ID,
		ToAccountID:     &b.ID,
		Amount:          dec("200.00"),
		ConfirmPassword: testPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxTransfer, tr.Type)

	fromBal := reload(t, db, a.ID).Balance
	toBal := reload(t, db, b.ID).Balance
	assert.True(t, fromBal.Equal(dec("300.00")))
	assert.True(t, toBal.Equal(dec("200.00")))
	// Money is redistributed, never created or destroyed
	assert.True(t, fromBal.Add(toBal).Equal(sumBefore))
	assert.EqualValues(t, 1, ledgerCount(t, db))
}

func TestReauthShortCircuits(t *testing.T) {
	db := newTestDB(t)
	eng := newTestEngine(t, db)
	u := seedUser(t, db, "alice")
	a := seedAccount(t, db, u.ID, "ACC-1", "100.00")

	// Even with an invalid amount the credential check fails first
	_, err := eng.Apply(context.Background(), ApplyInput{
		ActorUserID:     u.ID,
		Type:            domain.TxDeposit,
		ToAccountID:     &a.ID,
		Amount:          dec("-5"),
		ConfirmPassword: "wrong",
	})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.EqualValues(t, 0, ledgerCount(t, db))
}

func TestAmountValidation(t *testing.T) {
	db := newTestDB(t)
	eng := newTestEngine(t, db)
	u := seedUser(t, db, "alice")
	a := seedAccount(t, db, u.ID, "ACC-1", "100.00")

	for _, amt := range []string{"0", "0.00", "-5", "-0.01", "1.234", "0.001"} {
		_, err := eng.Apply(context.Background(), ApplyInput{
			ActorUserID:     u.ID,
			Type:            domain.TxDeposit,
			ToAccountID:     &a.ID,
			Amount:          dec(amt),
			ConfirmPassword: testPassword,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, "amount %s", amt)
	}
	assert.True(t, reload(t, db, a.ID).Balance.Equal(dec("100.00")))
	assert.EqualValues(t, 0, ledgerCount(t, db))
}

func TestShapeValidation(t *testing.T) {
	db := newTestDB(t)
	eng := newTestEngine(t, db)
	u := seedUser(t, db, "alice")
	a := seedAccount(t, db, u.ID, "ACC-1", "100.00")

	cases := []struct {
		name string
		in   ApplyInput
	}{
		{"deposit without destination", ApplyInput{Type: domain.TxDeposit}},
		{"withdrawal without source", ApplyInput{Type: domain.TxWithdrawal}},
		{"transfer without destination", ApplyInput{Type: domain.TxTransfer, FromAccountID: &a.ID}},
		{"transfer to self", ApplyInput{Type: domain.TxTransfer, FromAccountID: &a.ID, ToAccountID: &a.ID}},
		{"unknown type", ApplyInput{Type: "wire", FromAccountID: &a.ID, ToAccountID: &a.ID}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := tc.in
			in.ActorUserID = u.ID
			in.Amount = dec("10.00")
			in.ConfirmPassword = testPassword
			_, err := eng.Apply(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrInvalidTransaction)
		})
	}
	assert.EqualValues(t, 0, ledgerCount(t, db))
}

func TestCrossUserAccountLooksMissing(t *testing.T) {
	db := newTestDB(t)
	eng := newTestEngine(t, db)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	mine := seedAccount(t, db, alice.ID, "ACC-A", "100.00")
	theirs := seedAccount(t, db, bob.ID, "ACC-B", "100.00")

	// Depositing into another user's account is indistinguishable from
	// depositing into a missing one
	_, err := eng.Apply(context.Background(), ApplyInput{
		ActorUserID:     alice.ID,
		Type:            domain.TxDeposit,
		ToAccountID:     &theirs.ID,
		Amount:          dec("10.00"),
		ConfirmPassword: testPassword,
	})
	require.ErrorIs(t, err, domain.ErrAccountNotFound)

	// Same for the destination of a transfer
	_, err = eng.Apply(context.Background(), ApplyInput{
		ActorUserID:     alice.ID,
		Type:            domain.TxTransfer,
		FromAccountID:   &mine.ID,
		ToAccountID:     &theirs.ID,
		Amount:          dec("10.00"),
		ConfirmPassword: testPassword,
	})
	require.ErrorIs(t, err, domain.ErrAccountNotFound)

	assert.True(t, reload(t, db, mine.ID).Balance.Equal(dec("100.00")))
	assert.True(t, reload(t, db, theirs.ID).Balance.Equal(dec("100.00")))
	assert.EqualValues(t, 0, ledgerCount(t, db))
}

func TestConcurrentWithdrawals(t *testing.T) {
	db := newTestDB(t)
	eng := newTestEngine(t, db)
	u := seedUser(t, db, "alice")
	a := seedAccount(t, db, u.ID, "ACC-1", "100.00")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = eng.Apply(context.Background(), ApplyInput{
				ActorUserID:     u.ID,
				Type:            domain.TxWithdrawal,
				FromAccountID:   &a.ID,
				Amount:          dec("60.00"),
				ConfirmPassword: testPassword,
			})
		}()
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, domain.ErrInsufficientFunds):
			insufficient++
		}
	}
	assert.Equal(t, 1, ok, "exactly one withdrawal must succeed")
	assert.Equal(t, 1, insufficient, "the other must fail on funds")
	assert.True(t, reload(t, db, a.ID).Balance.Equal(dec("40.00")))
	assert.EqualValues(t, 1, ledgerCount(t, db))
}

func TestAtomicityOnLedgerFailure(t *testing.T) {
	db := newTestDB(t)
	eng := newTestEngine(t, db)
	u := seedUser(t, db, "alice")
	a := seedAccount(t, db, u.ID, "ACC-A", "500.00")
	b := seedAccount(t, db, u.ID, "ACC-B", "0.00")

	// Make the ledger insert fail after both balance updates succeeded;
	// the whole unit must roll back.
	require.NoError(t, db.Migrator().DropTable(&domain.Transaction{}))

	_, err := eng.Apply(context.Background(), ApplyInput{
		ActorUserID:     u.ID,
		Type:            domain.TxTransfer,
		FromAccountID:   &a.ID,
		ToAccountID:     &b.ID,
		Amount:          dec("200.00"),
		ConfirmPassword: testPassword,
	})
	require.Error(t, err)

	assert.True(t, reload(t, db, a.ID).Balance.Equal(dec("500.00")))
	assert.True(t, reload(t, db, b.ID).Balance.Equal(dec("0.00")))
}

func TestRandomSequenceNeverNegative(t *testing.T) {
	db := newTestDB(t)
	eng := newTestEngine(t, db)
	u := seedUser(t, db, "alice")

	accts := []*domain.Account{
		seedAccount(t, db, u.ID, "ACC-0", "50.00"),
		seedAccount(t, db, u.ID, "ACC-1", "0.00"),
		seedAccount(t, db, u.ID, "ACC-2", "10.00"),
	}
	model := map[uint]decimal.Decimal{
		accts[0].ID: dec("50.00"),
		accts[1].ID: dec("0.00"),
		accts[2].ID: dec("10.00"),
	}

	rng := rand.New(rand.NewSource(42))
	for range 200 {
		amount := decimal.NewFromInt(rng.Int63n(4000) + 1).Div(decimal.NewFromInt(100))
		from := accts[rng.Intn(len(accts))]
		to := accts[rng.Intn(len(accts))]
		in := ApplyInput{ActorUserID: u.ID, Amount: amount, ConfirmPassword: testPassword}
		switch rng.Intn(3) {
		case 0:
			in.Type = domain.TxDeposit
			in.ToAccountID = &to.ID
		case 1:
			in.Type = domain.TxWithdrawal
			in.FromAccountID = &from.ID
		default:
			in.Type = domain.TxTransfer
			in.FromAccountID = &from.ID
			in.ToAccountID = &to.ID
		}

		_, err := eng.Apply(context.Background(), in)
		if err == nil {
			switch in.Type {
			case domain.TxDeposit:
				model[to.ID] = model[to.ID].Add(amount)
			case domain.TxWithdrawal:
				model[from.ID] = model[from.ID].Sub(amount)
			case domain.TxTransfer:
				model[from.ID] = model[from.ID].Sub(amount)
				model[to.ID] = model[to.ID].Add(amount)
			}
		}

		for _, acct := range accts {
			bal := reload(t, db, acct.ID).Balance
			require.False(t, bal.IsNegative(), "account %d went negative", acct.ID)
			require.True(t, bal.Equal(model[acct.ID]),
				"account %d drifted from the model: %s != %s", acct.ID, bal, model[acct.ID])
		}
	}
}

func TestListTransactionsFilters(t *testing.T) {
	db := newTestDB(t)
	eng := newTestEngine(t, db)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	a := seedAccount(t, db, alice.ID, "ACC-A", "100.00")
	b := seedAccount(t, db, alice.ID, "ACC-B", "0.00")
	c := seedAccount(t, db, bob.ID, "ACC-C", "0.00")

	apply := func(in ApplyInput) *domain.Transaction {
		in.ConfirmPassword = testPassword
		tr, err := eng.Apply(context.Background(), in)
		require.NoError(t, err)
		return tr
	}
	apply(ApplyInput{ActorUserID: alice.ID, Type: domain.TxDeposit, ToAccountID: &a.ID, Amount: dec("50.00")})
	apply(ApplyInput{ActorUserID: alice.ID, Type: domain.TxWithdrawal, FromAccountID: &a.ID, Amount: dec("20.00")})
	transfer := apply(ApplyInput{ActorUserID: alice.ID, Type: domain.TxTransfer, FromAccountID: &a.ID, ToAccountID: &b.ID, Amount: dec("30.00")})
	apply(ApplyInput{ActorUserID: bob.ID, Type: domain.TxDeposit, ToAccountID: &c.ID, Amount: dec("70.00")})

	ctx := context.Background()

	// Alice sees her three movements, never Bob's
	txs, err := eng.ListTransactions(ctx, alice.ID, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 3)

	// Account filter matches either side
	txs, err = eng.ListTransactions(ctx, alice.ID, ListFilter{AccountID: &b.ID})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, transfer.ID, txs[0].ID)

	// Type filter
	txs, err = eng.ListTransactions(ctx, alice.ID, ListFilter{Type: domain.TxDeposit})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxDeposit, txs[0].Type)

	// Date range is inclusive on both ends
	at := transfer.CreatedAt
	txs, err = eng.ListTransactions(ctx, alice.ID, ListFilter{Type: domain.TxTransfer, StartDate: &at, EndDate: &at})
	require.NoError(t, err)
	require.Len(t, txs, 1)

	// An empty window excludes everything
	future := time.Now().Add(time.Hour)
	txs, err = eng.ListTransactions(ctx, alice.ID, ListFilter{StartDate: &future})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestReadsAreStableWithoutWrites(t *testing.T) {
	db := newTestDB(t)
	eng := newTestEngine(t, db)
	u := seedUser(t, db, "alice")
	a := seedAccount(t, db, u.ID, "ACC-A", "100.00")

	_, err := eng.Apply(context.Background(), ApplyInput{
		ActorUserID: u.ID, Type: domain.TxDeposit, ToAccountID: &a.ID,
		Amount: dec("5.00"), ConfirmPassword: testPassword,
	})
	require.NoError(t, err)

	first, err := eng.ListTransactions(context.Background(), u.ID, ListFilter{})
	require.NoError(t, err)
	second, err := eng.ListTransactions(context.Background(), u.ID, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetTransactionVisibility(t *testing.T) {
	db := newTestDB(t)
	eng := newTestEngine(t, db)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	a := seedAccount(t, db, alice.ID, "ACC-A", "0.00")

	tr, err := eng.Apply(context.Background(), ApplyInput{
		ActorUserID: alice.ID, Type: domain.TxDeposit, ToAccountID: &a.ID,
		Amount: dec("5.00"), ConfirmPassword: testPassword,
	})
	require.NoError(t, err)

	got, err := eng.GetTransaction(context.Background(), alice.ID, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, got.ID)

	_, err = eng.GetTransaction(context.Background(), bob.ID, tr.ID)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

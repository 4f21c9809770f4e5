package usecase_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"
	"app/internal/usecase"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// =====================
// カート永続化のインメモリフェイク。
// CartRepositoryとCartItemRepositoryを兼ねる。
// =====================

type fakeCartStore struct {
	mu         sync.Mutex
	nextCartID int64
	nextItemID int64
	carts      map[int64]*model.Cart
	items      map[int64]*model.CartItem
}

func newFakeCartStore() *fakeCartStore {
	return &fakeCartStore{
		nextCartID: 1,
		nextItemID: 1,
		carts:      map[int64]*model.Cart{},
		items:      map[int64]*model.CartItem{},
	}
}

func (f *fakeCartStore) GetOrCreateActiveByOwner(ctx context.Context, owner model.Owner) (model.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.carts {
		if c.OwnerType == owner.Type && c.OwnerKey == owner.Key && c.Status == model.CartStatusActive {
			return *c, nil
		}
	}
	now := time.Now()
	c := &model.Cart{
		ID:           f.nextCartID,
		OwnerType:    owner.Type,
		OwnerKey:     owner.Key,
		Status:       model.CartStatusActive,
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.nextCartID++
	f.carts[c.ID] = c
	return *c, nil
}

func (f *fakeCartStore) FindActiveByOwner(ctx context.Context, owner model.Owner) (model.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.carts {
		if c.OwnerType == owner.Type && c.OwnerKey == owner.Key && c.Status == model.CartStatusActive {
			return *c, nil
		}
	}
	return model.Cart{}, repo.ErrNotFound
}

func (f *fakeCartStore) UpdateStatus(ctx context.Context, cartID int64, status model.CartStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[cartID]
	if !ok {
		return repo.ErrNotFound
	}
	c.Status = status
	return nil
}

func (f *fakeCartStore) TouchLastActive(ctx context.Context, cartID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[cartID]
	if !ok {
		return repo.ErrNotFound
	}
	c.LastActiveAt = time.Now()
	return nil
}

func (f *fakeCartStore) deleteCart(cartID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.carts[cartID]; !ok {
		return repo.ErrNotFound
	}
	delete(f.carts, cartID)
	return nil
}

func (f *fakeCartStore) ListExpiredAnonymous(ctx context.Context, olderThan time.Time, limit int) ([]model.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Cart
	for _, c := range f.carts {
		if c.OwnerType != model.OwnerTypeAnonymous || c.Status != model.CartStatusActive {
			continue
		}
		if !c.LastActiveAt.Before(olderThan) {
			continue
		}
		reserved := false
		for _, it := range f.items {
			if it.CartID == c.ID && it.StockReserved {
				reserved = true
				break
			}
		}
		if !reserved {
			continue
		}
		out = append(out, *c)
		if len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCartStore) ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CartItem
	for _, it := range f.items {
		if it.CartID == cartID {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCartStore) FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[cartItemID]
	if !ok {
		return model.CartItem{}, repo.ErrNotFound
	}
	return *it, nil
}

func (f *fakeCartStore) FindByCartProduct(ctx context.Context, cartID int64, productID int64, isBooking bool) (model.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.CartID == cartID && it.ProductID == productID && it.IsBooking == isBooking {
			return *it, nil
		}
	}
	return model.CartItem{}, repo.ErrNotFound
}

func (f *fakeCartStore) Create(ctx context.Context, item model.CartItem) (model.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = f.nextItemID
	f.nextItemID++
	cp := item
	f.items[item.ID] = &cp
	return item, nil
}

func (f *fakeCartStore) UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[cartItemID]
	if !ok {
		return repo.ErrNotFound
	}
	it.Quantity = qty
	return nil
}

func (f *fakeCartStore) DeleteByID(ctx context.Context, cartItemID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[cartItemID]; !ok {
		return repo.ErrNotFound
	}
	delete(f.items, cartItemID)
	return nil
}

func (f *fakeCartStore) DeleteByCartID(ctx context.Context, cartID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, it := range f.items {
		if it.CartID == cartID {
			delete(f.items, id)
		}
	}
	return nil
}

func (f *fakeCartStore) MoveToCart(ctx context.Context, cartItemID int64, toCartID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[cartItemID]
	if !ok {
		return repo.ErrNotFound
	}
	it.CartID = toCartID
	return nil
}

// DeleteByIDはcart用とitem用で同名シグネチャになるので、
// CartRepository側の削除だけこのビューで差し替える。
type cartRepoView struct{ *fakeCartStore }

func (v cartRepoView) DeleteByID(ctx context.Context, cartID int64) error {
	return v.deleteCart(cartID)
}

var _ repo.CartRepository = cartRepoView{}
var _ repo.CartItemRepository = (*fakeCartStore)(nil)

func newCartUC(store *fakeCartStore, ledger *fakeLedger) *usecase.CartUsecase {
	resv := usecase.NewReservationUsecase(ledger, zerolog.Nop())
	return usecase.NewCartUsecase(cartRepoView{store}, store, ledger, resv, zerolog.Nop())
}

// =====================
// AddItem
// =====================

func TestCartUsecase_AddItem_ReservesStock(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	p := ledger.seed(model.Product{Name: "coffee", Stock: 10, IsActive: true})
	store := newFakeCartStore()
	uc := newCartUC(store, ledger)

	owner := model.AnonymousOwner("sess-1")
	out, err := uc.AddItem(ctx, owner, usecase.AddItemInput{ProductID: p.ID, Quantity: 3})
	assert.NoError(t, err)

	assert.Len(t, out.Items, 1)
	assert.Equal(t, int64(3), out.ReservedUnits)
	assert.True(t, out.Items[0].StockReserved)
	assert.Equal(t, int64(3), ledger.get(p.ID).ReservedStock)
}

func TestCartUsecase_AddItem_InsufficientLeavesCartUnchanged(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	p := ledger.seed(model.Product{Name: "rare", Stock: 2, IsActive: true})
	store := newFakeCartStore()
	uc := newCartUC(store, ledger)

	owner := model.AnonymousOwner("sess-1")
	_, err := uc.AddItem(ctx, owner, usecase.AddItemInput{ProductID: p.ID, Quantity: 3})

	var insufficient *usecase.InsufficientStockError
	assert.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(3), insufficient.Requested)
	assert.Equal(t, int64(2), insufficient.Available)

	out, err := uc.GetCart(ctx, owner)
	assert.NoError(t, err)
	assert.Empty(t, out.Items)
	assert.Equal(t, int64(0), ledger.get(p.ID).ReservedStock)
}

func TestCartUsecase_AddItem_MergesSameProduct(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	p := ledger.seed(model.Product{Name: "coffee", Stock: 10, IsActive: true})
	store := newFakeCartStore()
	uc := newCartUC(store, ledger)

	owner := model.AnonymousOwner("sess-1")
	_, err := uc.AddItem(ctx, owner, usecase.AddItemInput{ProductID: p.ID, Quantity: 2})
	assert.NoError(t, err)
	out, err := uc.AddItem(ctx, owner, usecase.AddItemInput{ProductID: p.ID, Quantity: 3})
	assert.NoError(t, err)

	assert.Len(t, out.Items, 1)
	assert.Equal(t, int64(5), out.Items[0].Quantity)
	assert.Equal(t, int64(5), ledger.get(p.ID).ReservedStock)
}

func TestCartUsecase_AddItem_BookingSkipsLedger(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	p := ledger.seed(model.Product{Name: "growing crop", Stock: 0, IsActive: true})
	store := newFakeCartStore()
	uc := newCartUC(store, ledger)

	owner := model.AnonymousOwner("sess-1")
	out, err := uc.AddItem(ctx, owner, usecase.AddItemInput{ProductID: p.ID, Quantity: 4, IsBooking: true})
	assert.NoError(t, err)

	// 在庫0でも予約(booking)は積める。台帳は無傷
	assert.Len(t, out.Items, 1)
	assert.False(t, out.Items[0].StockReserved)
	assert.Equal(t, int64(0), out.ReservedUnits)
	assert.Equal(t, int64(0), ledger.get(p.ID).ReservedStock)
	assert.Equal(t, 0, ledger.increases)
}

func TestCartUsecase_AddItem_InactiveProductRejected(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	p := ledger.seed(model.Product{Name: "hidden", Stock: 10, IsActive: false})
	store := newFakeCartStore()
	uc := newCartUC(store, ledger)

	_, err := uc.AddItem(ctx, model.AnonymousOwner("sess-1"), usecase.AddItemInput{ProductID: p.ID, Quantity: 1})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

// =====================
// UpdateQuantity
// =====================

func TestCartUsecase_UpdateQuantity_DeltaReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	p := ledger.seed(model.Product{Name: "coffee", Stock: 10, IsActive: true})
	store := newFakeCartStore()
	uc := newCartUC(store, ledger)

	owner := model.AnonymousOwner("sess-1")
	out, err := uc.AddItem(ctx, owner, usecase.AddItemInput{ProductID: p.ID, Quantity: 3})
	assert.NoError(t, err)
	itemID := out.Items[0].ID

	// 増分だけ追加予約
	out, err = uc.UpdateQuantity(ctx, owner, itemID, 5)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), out.Items[0].Quantity)
	assert.Equal(t, int64(5), ledger.get(p.ID).ReservedStock)

	// 減分だけ解放
	out, err = uc.UpdateQuantity(ctx, owner, itemID, 2)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), out.Items[0].Quantity)
	assert.Equal(t, int64(2), ledger.get(p.ID).ReservedStock)
}

func TestCartUsecase_UpdateQuantity_BelowOneRemovesLine(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	p := ledger.seed(model.Product{Name: "coffee", Stock: 10, IsActive: true})
	store := newFakeCartStore()
	uc := newCartUC(store, ledger)

	owner := model.AnonymousOwner("sess-1")
	out, err := uc.AddItem(ctx, owner, usecase.AddItemInput{ProductID: p.ID, Quantity: 3})
	assert.NoError(t, err)

	out, err = uc.UpdateQuantity(ctx, owner, out.Items[0].ID, 0)
	assert.NoError(t, err)
	assert.Empty(t, out.Items)
	assert.Equal(t, int64(0), ledger.get(p.ID).ReservedStock)
}

func TestCartUsecase_UpdateQuantity_InsufficientDeltaKeepsLine(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	p := ledger.seed(model.Product{Name: "coffee", Stock: 5, IsActive: true})
	store := newFakeCartStore()
	uc := newCartUC(store, ledger)

	owner := model.AnonymousOwner("sess-1")
	out, err := uc.AddItem(ctx, owner, usecase.AddItemInput{ProductID: p.ID, Quantity: 4})
	assert.NoError(t, err)
	itemID := out.Items[0].ID

	// 残1に対して増分3は弾かれ、明細は4のまま
	_, err = uc.UpdateQuantity(ctx, owner, itemID, 7)
	var insufficient *usecase.InsufficientStockError
	assert.ErrorAs(t, err, &insufficient)

	out, err = uc.GetCart(ctx, owner)
	assert.NoError(t, err)
	assert.Equal(t, int64(4), out.Items[0].Quantity)
	assert.Equal(t, int64(4), ledger.get(p.ID).ReservedStock)
}

func TestCartUsecase_UpdateQuantity_OtherOwnersItemHidden(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	p := ledger.seed(model.Product{Name: "coffee", Stock: 10, IsActive: true})
	store := newFakeCartStore()
	uc := newCartUC(store, ledger)

	out, err := uc.AddItem(ctx, model.AnonymousOwner("sess-1"), usecase.AddItemInput{ProductID: p.ID, Quantity: 1})
	assert.NoError(t, err)

	_, err = uc.UpdateQuantity(ctx, model.AnonymousOwner("sess-2"), out.Items[0].ID, 3)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

// =====================
// RemoveItem / Clear
// =====================

func TestCartUsecase_RemoveItem_ReleasesReservation(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	p := ledger.seed(model.Product{Name: "coffee", Stock: 10, IsActive: true})
	store := newFakeCartStore()
	uc := newCartUC(store, ledger)

	owner := model.AnonymousOwner("sess-1")
	out, err := uc.AddItem(ctx, owner, usecase.AddItemInput{ProductID: p.ID, Quantity: 3})
	assert.NoError(t, err)

	out, err = uc.RemoveItem(ctx, owner, out.Items[0].ID)
	assert.NoError(t, err)
	assert.Empty(t, out.Items)
	assert.Equal(t, int64(0), ledger.get(p.ID).ReservedStock)
}

func TestCartUsecase_Clear_ReleasesAllReservations(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	p1 := ledger.seed(model.Product{Name: "coffee", Stock: 10, IsActive: true})
	p2 := ledger.seed(model.Product{Name: "crop", Stock: 0, IsActive: true})
	store := newFakeCartStore()
	uc := newCartUC(store, ledger)

	owner := model.AnonymousOwner("sess-1")
	_, err := uc.AddItem(ctx, owner, usecase.AddItemInput{ProductID: p1.ID, Quantity: 3})
	assert.NoError(t, err)
	_, err = uc.AddItem(ctx, owner, usecase.AddItemInput{ProductID: p2.ID, Quantity: 2, IsBooking: true})
	assert.NoError(t, err)

	out, err := uc.Clear(ctx, owner)
	assert.NoError(t, err)
	assert.Empty(t, out.Items)
	assert.Equal(t, int64(0), out.ReservedUnits)
	// 予約されていた3だけが返る。bookingは台帳に触れない
	assert.Equal(t, int64(0), ledger.get(p1.ID).ReservedStock)
	assert.Equal(t, int64(0), ledger.get(p2.ID).ReservedStock)
}

// =====================
// Migrate
// =====================

func TestCartUsecase_Migrate_MergesLinesWithoutLedgerCalls(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	p := ledger.seed(model.Product{Name: "coffee", Stock: 10, IsActive: true})
	store := newFakeCartStore()
	uc := newCartUC(store, ledger)

	anon := model.AnonymousOwner("anon123")
	user := model.UserOwner(456)

	_, err := uc.AddItem(ctx, anon, usecase.AddItemInput{ProductID: p.ID, Quantity: 2})
	assert.NoError(t, err)
	_, err = uc.AddItem(ctx, user, usecase.AddItemInput{ProductID: p.ID, Quantity: 1})
	assert.NoError(t, err)

	assert.Equal(t, int64(3), ledger.get(p.ID).ReservedStock)
	increasesBefore := ledger.increases
	decreasesBefore := ledger.decreases

	out, err := uc.Migrate(ctx, anon, user)
	assert.NoError(t, err)

	// 1明細に合算。台帳は呼ばれず予約数も変わらない
	assert.Len(t, out.Items, 1)
	assert.Equal(t, int64(3), out.Items[0].Quantity)
	assert.Equal(t, int64(3), out.ReservedUnits)
	assert.Equal(t, int64(3), ledger.get(p.ID).ReservedStock)
	assert.Equal(t, increasesBefore, ledger.increases)
	assert.Equal(t, decreasesBefore, ledger.decreases)

	// 移行元カートは消えている
	_, err = store.FindActiveByOwner(ctx, anon)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCartUsecase_Migrate_AppendsNonMatchingLines(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	p1 := ledger.seed(model.Product{Name: "coffee", Stock: 10, IsActive: true})
	p2 := ledger.seed(model.Product{Name: "tea", Stock: 10, IsActive: true})
	store := newFakeCartStore()
	uc := newCartUC(store, ledger)

	anon := model.AnonymousOwner("anon123")
	user := model.UserOwner(456)

	_, err := uc.AddItem(ctx, anon, usecase.AddItemInput{ProductID: p1.ID, Quantity: 2})
	assert.NoError(t, err)
	_, err = uc.AddItem(ctx, user, usecase.AddItemInput{ProductID: p2.ID, Quantity: 1})
	assert.NoError(t, err)

	out, err := uc.Migrate(ctx, anon, user)
	assert.NoError(t, err)
	assert.Len(t, out.Items, 2)
	assert.Equal(t, int64(3), out.ReservedUnits)
}

func TestCartUsecase_Migrate_NoSourceCartReturnsTarget(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	store := newFakeCartStore()
	uc := newCartUC(store, ledger)

	out, err := uc.Migrate(ctx, model.AnonymousOwner("ghost"), model.UserOwner(456))
	assert.NoError(t, err)
	assert.Empty(t, out.Items)
}

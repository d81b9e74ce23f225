package currency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/apperr"
)

type fakeSource struct {
	rates   map[string]decimal.Decimal
	err     error
	calls   int
	blockOn context.Context // when set, FetchRate waits for ctx cancellation
}

func (f *fakeSource) FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	f.calls++
	if f.blockOn != nil {
		<-ctx.Done()
		return decimal.Decimal{}, ctx.Err()
	}
	if f.err != nil {
		return decimal.Decimal{}, f.err
	}
	if r, ok := f.rates[from+"/"+to]; ok {
		return r, nil
	}
	return decimal.Decimal{}, errors.New("no rate")
}

type fakeStore struct {
	saved map[string]Rate
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string]Rate)}
}

func (f *fakeStore) SaveRate(_ context.Context, r Rate) error {
	f.saved[r.From+"/"+r.To] = r
	return nil
}

func (f *fakeStore) LastKnownRate(_ context.Context, from, to string) (Rate, bool, error) {
	r, ok := f.saved[from+"/"+to]
	return r, ok, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestService(source *fakeSource, store RateStore) *Service {
	return NewService(source, NewMemoryCache(), store, time.Minute, 50*time.Millisecond)
}

func TestGetRate(t *testing.T) {
	ctx := context.Background()

	t.Run("same currency returns rate 1 without any lookup", func(t *testing.T) {
		source := &fakeSource{}
		svc := newTestService(source, nil)

		r, err := svc.GetRate(ctx, "USD", "USD")
		if err != nil {
			t.Fatalf("GetRate failed: %v", err)
		}
		if !r.Rate.Equal(dec("1")) {
			t.Errorf("rate = %s, want 1", r.Rate)
		}
		if source.calls != 0 {
			t.Errorf("source called %d times, want 0", source.calls)
		}
	})

	t.Run("fetches then serves from cache", func(t *testing.T) {
		source := &fakeSource{rates: map[string]decimal.Decimal{"USD/EUR": dec("0.9")}}
		svc := newTestService(source, nil)

		for i := 0; i < 3; i++ {
			r, err := svc.GetRate(ctx, "USD", "EUR")
			if err != nil {
				t.Fatalf("GetRate failed: %v", err)
			}
			if !r.Rate.Equal(dec("0.9")) {
				t.Errorf("rate = %s, want 0.9", r.Rate)
			}
		}
		if source.calls != 1 {
			t.Errorf("source called %d times, want 1 (cache should serve the rest)", source.calls)
		}
	})

	t.Run("persists fetched rates to the fallback store", func(t *testing.T) {
		source := &fakeSource{rates: map[string]decimal.Decimal{"USD/EUR": dec("0.9")}}
		store := newFakeStore()
		svc := newTestService(source, store)

		if _, err := svc.GetRate(ctx, "USD", "EUR"); err != nil {
			t.Fatalf("GetRate failed: %v", err)
		}
		if _, ok := store.saved["USD/EUR"]; !ok {
			t.Error("fetched rate was not persisted")
		}
	})

	t.Run("falls back to last-known rate when the source fails", func(t *testing.T) {
		store := newFakeStore()
		store.saved["USD/EUR"] = Rate{From: "USD", To: "EUR", Rate: dec("0.88")}
		source := &fakeSource{err: errors.New("provider down")}
		svc := newTestService(source, store)

		r, err := svc.GetRate(ctx, "USD", "EUR")
		if err != nil {
			t.Fatalf("GetRate failed: %v", err)
		}
		if !r.Rate.Equal(dec("0.88")) {
			t.Errorf("rate = %s, want last-known 0.88", r.Rate)
		}
	})

	t.Run("falls back to last-known rate on timeout", func(t *testing.T) {
		store := newFakeStore()
		store.saved["USD/EUR"] = Rate{From: "USD", To: "EUR", Rate: dec("0.87")}
		source := &fakeSource{blockOn: context.Background()}
		svc := newTestService(source, store)

		r, err := svc.GetRate(ctx, "USD", "EUR")
		if err != nil {
			t.Fatalf("GetRate failed: %v", err)
		}
		if !r.Rate.Equal(dec("0.87")) {
			t.Errorf("rate = %s, want last-known 0.87", r.Rate)
		}
	})

	t.Run("source failure without fallback is a conversion error", func(t *testing.T) {
		source := &fakeSource{err: errors.New("provider down")}
		svc := newTestService(source, nil)

		_, err := svc.GetRate(ctx, "USD", "EUR")
		if !apperr.IsKind(err, apperr.KindConversion) {
			t.Errorf("expected conversion error, got %v", err)
		}
	})

	t.Run("unsupported currency is a validation error", func(t *testing.T) {
		svc := newTestService(&fakeSource{}, nil)

		_, err := svc.GetRate(ctx, "USD", "WAT")
		if !apperr.IsKind(err, apperr.KindValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestConvert(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{rates: map[string]decimal.Decimal{"USD/EUR": dec("0.9")}}
	svc := newTestService(source, nil)

	converted, rate, err := svc.Convert(ctx, dec("10.55"), "USD", "EUR")
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if !converted.Equal(dec("9.50")) {
		t.Errorf("converted = %s, want 9.50 (10.55 * 0.9 rounded)", converted)
	}
	if !rate.Rate.Equal(dec("0.9")) {
		t.Errorf("rate = %s, want 0.9", rate.Rate)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	expired := Rate{From: "USD", To: "EUR", Rate: dec("0.9"), ExpiresAt: time.Now().Add(-time.Second)}
	cache.Set(ctx, expired)
	if _, ok := cache.Get(ctx, "USD", "EUR"); ok {
		t.Error("expired entry should miss")
	}

	fresh := Rate{From: "USD", To: "EUR", Rate: dec("0.9"), ExpiresAt: time.Now().Add(time.Minute)}
	cache.Set(ctx, fresh)
	if _, ok := cache.Get(ctx, "USD", "EUR"); !ok {
		t.Error("fresh entry should hit")
	}
}

func TestIsValidCurrency(t *testing.T) {
	svc := newTestService(&fakeSource{}, nil)

	for _, code := range []string{"USD", "EUR", "GBP", "JPY"} {
		if !svc.IsValidCurrency(code) {
			t.Errorf("%s should be valid", code)
		}
	}
	for _, code := range []string{"", "US", "DOLLARS", "WAT"} {
		if svc.IsValidCurrency(code) {
			t.Errorf("%q should be invalid", code)
		}
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(map[string]decimal.Decimal{"USD/EUR": dec("0.8")})
	ctx := context.Background()

	r, err := src.FetchRate(ctx, "USD", "EUR")
	if err != nil {
		t.Fatalf("FetchRate failed: %v", err)
	}
	if !r.Equal(dec("0.8")) {
		t.Errorf("rate = %s, want 0.8", r)
	}

	// Inverse direction is derived.
	inv, err := src.FetchRate(ctx, "EUR", "USD")
	if err != nil {
		t.Fatalf("FetchRate inverse failed: %v", err)
	}
	if !inv.Equal(dec("1.25")) {
		t.Errorf("inverse rate = %s, want 1.25", inv)
	}

	if _, err := src.FetchRate(ctx, "USD", "GBP"); err == nil {
		t.Error("expected error for unconfigured pair")
	}
}

package calculator

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/models"
)

func edge(from, to, amount string) models.DebtEdge {
	return models.DebtEdge{FromUserID: from, ToUserID: to, Amount: dec(amount), Currency: "USD"}
}

func TestSimplify(t *testing.T) {
	tests := []struct {
		name     string
		debts    []models.DebtEdge
		wantErr  bool
		validate func(t *testing.T, out []models.SimplifiedDebt)
	}{
		{
			name:  "empty input yields no payments",
			debts: nil,
			validate: func(t *testing.T, out []models.SimplifiedDebt) {
				if len(out) != 0 {
					t.Errorf("expected no payments, got %d", len(out))
				}
			},
		},
		{
			name:  "single debt passes through",
			debts: []models.DebtEdge{edge("B", "A", "50")},
			validate: func(t *testing.T, out []models.SimplifiedDebt) {
				if len(out) != 1 {
					t.Fatalf("expected 1 payment, got %d", len(out))
				}
				p := out[0]
				if p.FromUserID != "B" || p.ToUserID != "A" || !p.Amount.Equal(dec("50")) {
					t.Errorf("payment = %+v, want B->A 50", p)
				}
			},
		},
		{
			name: "chain collapses through the middleman",
			// A owes B 10, B owes C 10: A pays C directly.
			debts: []models.DebtEdge{
				edge("A", "B", "10"),
				edge("B", "C", "10"),
			},
			validate: func(t *testing.T, out []models.SimplifiedDebt) {
				if len(out) != 1 {
					t.Fatalf("expected 1 payment, got %d: %+v", len(out), out)
				}
				p := out[0]
				if p.FromUserID != "A" || p.ToUserID != "C" || !p.Amount.Equal(dec("10")) {
					t.Errorf("payment = %+v, want A->C 10", p)
				}
			},
		},
		{
			name: "largest debtor pays largest creditor first",
			debts: []models.DebtEdge{
				edge("C", "A", "70"),
				edge("D", "A", "10"),
				edge("C", "B", "20"),
			},
			validate: func(t *testing.T, out []models.SimplifiedDebt) {
				// Nets: A +80, B +20, C -90, D -10.
				if len(out) != 3 {
					t.Fatalf("expected 3 payments, got %d: %+v", len(out), out)
				}
				first := out[0]
				if first.FromUserID != "C" || first.ToUserID != "A" || !first.Amount.Equal(dec("80")) {
					t.Errorf("first payment = %+v, want C->A 80", first)
				}
			},
		},
		{
			name: "payment count bounded by original edge count",
			debts: []models.DebtEdge{
				edge("B", "A", "10"),
				edge("C", "A", "10"),
				edge("B", "A", "5"),
				edge("C", "B", "5"),
			},
			validate: func(t *testing.T, out []models.SimplifiedDebt) {
				if len(out) > 4 {
					t.Errorf("simplified count %d exceeds original count 4", len(out))
				}
			},
		},
		{
			name:  "single cent survives",
			debts: []models.DebtEdge{edge("B", "A", "0.01")},
			validate: func(t *testing.T, out []models.SimplifiedDebt) {
				if len(out) != 1 {
					t.Fatalf("expected 1 payment, got %d: %+v", len(out), out)
				}
				if !out[0].Amount.Equal(dec("0.01")) {
					t.Errorf("payment = %s, want 0.01", out[0].Amount)
				}
			},
		},
		{
			name: "one-cent remainder is paid out",
			// Nets: A +10.01, B -10, C -0.01. The trailing cent from C
			// must not vanish.
			debts: []models.DebtEdge{
				edge("B", "A", "10"),
				edge("C", "A", "0.01"),
			},
			validate: func(t *testing.T, out []models.SimplifiedDebt) {
				if len(out) != 2 {
					t.Fatalf("expected 2 payments, got %d: %+v", len(out), out)
				}
				total := decimal.Zero
				for _, p := range out {
					total = total.Add(p.Amount)
				}
				if !total.Equal(dec("10.01")) {
					t.Errorf("payments sum to %s, want 10.01", total)
				}
			},
		},
		{
			name: "mixed currencies rejected",
			debts: []models.DebtEdge{
				edge("B", "A", "10"),
				{FromUserID: "C", ToUserID: "A", Amount: dec("10"), Currency: "EUR"},
			},
			wantErr: true,
		},
		{
			name: "non-positive edge rejected",
			debts: []models.DebtEdge{
				{FromUserID: "B", ToUserID: "A", Amount: decimal.Zero, Currency: "USD"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Simplify(tt.debts)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			// Every payment must be strictly positive.
			for _, p := range out {
				if !p.Amount.IsPositive() {
					t.Errorf("non-positive payment amount: %+v", p)
				}
			}
			tt.validate(t, out)
		})
	}
}

// Conservation: each debtor's outgoing payments sum to their net
// deficit, and the total paid equals the total owed.
func TestSimplifyConservation(t *testing.T) {
	debts := []models.DebtEdge{
		edge("B", "A", "33.40"),
		edge("C", "A", "12.75"),
		edge("C", "B", "20.00"),
		edge("D", "C", "18.10"),
		edge("D", "A", "4.90"),
	}

	out, err := Simplify(debts)
	if err != nil {
		t.Fatalf("Simplify failed: %v", err)
	}

	net := make(map[string]decimal.Decimal)
	for _, d := range debts {
		net[d.FromUserID] = net[d.FromUserID].Sub(d.Amount)
		net[d.ToUserID] = net[d.ToUserID].Add(d.Amount)
	}

	paidBy := make(map[string]decimal.Decimal)
	receivedBy := make(map[string]decimal.Decimal)
	for _, p := range out {
		paidBy[p.FromUserID] = paidBy[p.FromUserID].Add(p.Amount)
		receivedBy[p.ToUserID] = receivedBy[p.ToUserID].Add(p.Amount)
	}

	for user, balance := range net {
		if balance.IsNegative() {
			if !paidBy[user].Equal(balance.Neg()) {
				t.Errorf("%s pays %s, want %s", user, paidBy[user], balance.Neg())
			}
		} else if balance.IsPositive() {
			if !receivedBy[user].Equal(balance) {
				t.Errorf("%s receives %s, want %s", user, receivedBy[user], balance)
			}
		}
	}

	if len(out) > len(debts) {
		t.Errorf("simplified count %d exceeds original %d", len(out), len(debts))
	}
}

func TestSimplifyDeterministic(t *testing.T) {
	debts := []models.DebtEdge{
		edge("B", "A", "10"),
		edge("C", "A", "10"),
		edge("D", "A", "10"),
	}

	first, err := Simplify(debts)
	if err != nil {
		t.Fatalf("Simplify failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Simplify(debts)
		if err != nil {
			t.Fatalf("Simplify failed: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("run %d: count %d != %d", i, len(again), len(first))
		}
		for j := range again {
			if again[j].FromUserID != first[j].FromUserID || again[j].ToUserID != first[j].ToUserID {
				t.Fatalf("run %d: order changed at %d: %+v vs %+v", i, j, again[j], first[j])
			}
		}
	}
}

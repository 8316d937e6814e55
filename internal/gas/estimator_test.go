package gas

import (
	"math/big"
	"testing"
)

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func TestApplyGasBuffer(t *testing.T) {
	tests := []struct {
		estimate uint64
		want     uint64
	}{
		{100_000, 120_000},
		{5_000, 21_000},
		{0, 21_000},
		{21_000, 25_200},
		{7_500, 21_000},    // 7500+1500 still below the floor
		{1_000_000, 1_200_000},
	}
	for _, tt := range tests {
		if got := ApplyGasBuffer(tt.estimate); got != tt.want {
			t.Errorf("ApplyGasBuffer(%d) = %d, want %d", tt.estimate, got, tt.want)
		}
	}
}

func TestFetchGasPrices(t *testing.T) {
	p := FetchGasPrices(gwei(10), 0)
	if p.Type != TypeEIP1559 {
		t.Errorf("type = %s, want eip1559", p.Type)
	}
	if p.MaxFeePerGas.Cmp(gwei(20)) != 0 {
		t.Errorf("maxFee = %s, want 20 gwei", p.MaxFeePerGas)
	}
	// 10/2 = 5 gwei, capped at 2 gwei
	if p.MaxPriorityFeePerGas.Cmp(gwei(2)) != 0 {
		t.Errorf("tip = %s, want 2 gwei", p.MaxPriorityFeePerGas)
	}
}

func TestFetchGasPricesCapsMaxFee(t *testing.T) {
	p := FetchGasPrices(gwei(90), 100)
	// 2 × 90 = 180 gwei, capped at 100 gwei
	if p.MaxFeePerGas.Cmp(gwei(100)) != 0 {
		t.Errorf("maxFee = %s, want 100 gwei", p.MaxFeePerGas)
	}

	p = FetchGasPrices(gwei(90), 250)
	if p.MaxFeePerGas.Cmp(gwei(180)) != 0 {
		t.Errorf("maxFee = %s, want 180 gwei", p.MaxFeePerGas)
	}
}

func TestFetchGasPricesSmallTip(t *testing.T) {
	p := FetchGasPrices(gwei(2), 0)
	// 2/2 = 1 gwei, below the 2 gwei ceiling
	if p.MaxPriorityFeePerGas.Cmp(gwei(1)) != 0 {
		t.Errorf("tip = %s, want 1 gwei", p.MaxPriorityFeePerGas)
	}
}

func TestGetGasPricesExplicit1559(t *testing.T) {
	p := GetGasPrices(Overrides{
		MaxFeePerGas:         gwei(33),
		MaxPriorityFeePerGas: gwei(3),
	}, gwei(10), 0)

	if p.Type != TypeEIP1559 {
		t.Errorf("type = %s, want eip1559", p.Type)
	}
	if p.MaxFeePerGas.Cmp(gwei(33)) != 0 || p.MaxPriorityFeePerGas.Cmp(gwei(3)) != 0 {
		t.Errorf("overrides not used verbatim: %s / %s", p.MaxFeePerGas, p.MaxPriorityFeePerGas)
	}
}

func TestGetGasPricesLegacy(t *testing.T) {
	p := GetGasPrices(Overrides{GasPrice: gwei(40)}, gwei(10), 0)

	if p.Type != TypeLegacy {
		t.Errorf("type = %s, want legacy", p.Type)
	}
	if p.MaxFeePerGas.Cmp(gwei(40)) != 0 {
		t.Errorf("maxFee = %s, want 40 gwei", p.MaxFeePerGas)
	}
	if p.MaxPriorityFeePerGas.Sign() != 0 {
		t.Errorf("legacy tip = %s, want 0", p.MaxPriorityFeePerGas)
	}
}

func TestGetGasPricesFallsBackToNetwork(t *testing.T) {
	p := GetGasPrices(Overrides{}, gwei(10), 0)
	if p.Type != TypeEIP1559 || p.MaxFeePerGas.Cmp(gwei(20)) != 0 {
		t.Errorf("fallback pair wrong: %s type=%s", p.MaxFeePerGas, p.Type)
	}
}

func TestCalculateTotalCost(t *testing.T) {
	value, _ := new(big.Int).SetString("1000000000000000000", 10) // 1 ETH
	est := CalculateTotalCost(50_000, Prices{
		MaxFeePerGas:         gwei(50),
		MaxPriorityFeePerGas: gwei(2),
		Type:                 TypeEIP1559,
	}, value)

	wantGasCost := new(big.Int).Mul(big.NewInt(50_000), gwei(50))
	if est.EstimatedGasCost.Cmp(wantGasCost) != 0 {
		t.Errorf("EstimatedGasCost = %s, want %s", est.EstimatedGasCost, wantGasCost)
	}
	wantTotal := new(big.Int).Add(wantGasCost, value)
	if est.TotalCost.Cmp(wantTotal) != 0 {
		t.Errorf("TotalCost = %s, want %s", est.TotalCost, wantTotal)
	}
}

func TestCalculateTotalCostClampsGasLimit(t *testing.T) {
	est := CalculateTotalCost(5_000, Prices{MaxFeePerGas: gwei(1)}, nil)
	if est.GasLimit != MinGasLimit {
		t.Errorf("GasLimit = %d, want %d", est.GasLimit, MinGasLimit)
	}
	if est.TotalCost.Cmp(est.EstimatedGasCost) != 0 {
		t.Errorf("zero-value total %s != gas cost %s", est.TotalCost, est.EstimatedGasCost)
	}
}

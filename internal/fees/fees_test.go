package fees

import (
	"testing"

	"github.com/rawblock/joinmarket-core/pkg/models"
)

func TestRealCJFee_Absolute(t *testing.T) {
	got := RealCJFee(models.OrderTypeAbsOffer, 3000, 10_000_000)
	if got != 3000 {
		t.Fatalf("expected absolute cjfee to pass through unchanged, got %d", got)
	}
}

func TestRealCJFee_RelativeRoundsTowardZero(t *testing.T) {
	got := RealCJFee(models.OrderTypeRelOffer, 0.0003, 10_000_001)
	// 10_000_001 * 0.0003 = 3000.0003 -> floors to 3000
	if got != 3000 {
		t.Fatalf("expected relative cjfee to round toward zero, got %d", got)
	}
}

func TestMakerChange(t *testing.T) {
	got := MakerChange(1_000_000, 900_000, 1000, 3000)
	want := int64(1_000_000 - 900_000 - 1000 + 3000)
	if got != want {
		t.Fatalf("expected maker change %d, got %d", want, got)
	}
}

func TestTakerTxFeeShare_FlooredAtZero(t *testing.T) {
	if got := TakerTxFeeShare(1000, 5000); got != 0 {
		t.Fatalf("expected floor at zero when makers overcover the fee, got %d", got)
	}
	if got := TakerTxFeeShare(5000, 1000); got != 4000 {
		t.Fatalf("expected 4000 remaining share, got %d", got)
	}
}

func TestTakerChange(t *testing.T) {
	got := TakerChange(10_000_000, 9_000_000, 6000, 1000)
	want := int64(10_000_000 - 9_000_000 - 6000 - 1000)
	if got != want {
		t.Fatalf("expected taker change %d, got %d", want, got)
	}
}

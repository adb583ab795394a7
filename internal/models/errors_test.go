package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestProviderError_IsThroughWrapping(t *testing.T) {
	unauth := &ProviderError{Kind: ProviderErrorUnauthorized, StatusCode: 401, Op: "list_accounts", Err: errors.New("token expired")}
	wrapped := fmt.Errorf("import connection c1: %w", unauth)

	if !IsUnauthorized(wrapped) {
		t.Error("expected wrapped unauthorized error to match ErrUnauthorized")
	}
	if IsTransient(wrapped) {
		t.Error("unauthorized error must not match ErrTransient")
	}

	var pe *ProviderError
	if !errors.As(wrapped, &pe) || pe.StatusCode != 401 {
		t.Errorf("errors.As failed or wrong status: %+v", pe)
	}
}

func TestProviderError_Transient(t *testing.T) {
	err := &ProviderError{Kind: ProviderErrorTransient, StatusCode: 503, Op: "get_holdings", Err: errors.New("unavailable")}
	if !IsTransient(err) {
		t.Error("expected transient error to match ErrTransient")
	}
	if IsUnauthorized(err) {
		t.Error("transient error must not match ErrUnauthorized")
	}
}

func TestProviderError_FailureMatchesNeither(t *testing.T) {
	err := &ProviderError{Kind: ProviderErrorFailure, Op: "get_balances", Err: errors.New("bad payload")}
	if IsTransient(err) || IsUnauthorized(err) {
		t.Error("generic failure must not match a sentinel")
	}
}

func TestActivityLabel_Branches(t *testing.T) {
	tradeLike := []ActivityLabel{LabelBuy, LabelSell, LabelReinvestment, LabelOptionExercise}
	for _, l := range tradeLike {
		if !l.IsTradeLike() {
			t.Errorf("%s should be trade-like", l)
		}
	}
	cashLike := []ActivityLabel{LabelDividend, LabelInterest, LabelFee, LabelTax, LabelTransfer, LabelContribution, LabelWithdrawal, LabelDeposit, LabelOther}
	for _, l := range cashLike {
		if l.IsTradeLike() {
			t.Errorf("%s should be cash-like", l)
		}
	}
	if LabelFee.CashDirection() != -1 || LabelDividend.CashDirection() != 1 || LabelTransfer.CashDirection() != 0 {
		t.Error("unexpected cash direction")
	}
}

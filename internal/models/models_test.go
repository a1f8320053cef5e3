package models

import "testing"

func strPtr(value string) *string {
	return &value
}

func TestStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() {
		t.Fatal("pending must not be terminal")
	}
	for _, status := range []Status{StatusApproved, StatusRejected, StatusCompleted, StatusFailed, StatusCancelled} {
		if !status.Terminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	if Status("paused").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}

func TestCreditedAccount(t *testing.T) {
	deposit := LedgerEntry{Kind: KindWalletDeposit, FromAccountID: strPtr("payer")}
	if got := deposit.CreditedAccount(); got != "payer" {
		t.Fatalf("expected deposit to credit payer, got %q", got)
	}
	credit := LedgerEntry{Kind: KindWalletDeposit, ToAccountID: strPtr("target")}
	if got := credit.CreditedAccount(); got != "target" {
		t.Fatalf("expected admin credit to credit target, got %q", got)
	}
	charge := LedgerEntry{Kind: KindWalletCharge, FromAccountID: strPtr("payer"), ToAccountID: strPtr("seller")}
	if got := charge.CreditedAccount(); got != "seller" {
		t.Fatalf("expected charge to credit receiver, got %q", got)
	}
}

func TestCounterparty(t *testing.T) {
	entry := LedgerEntry{FromAccountID: strPtr("a"), ToAccountID: strPtr("b"), RequestedBy: "a"}
	if entry.Counterparty() != "b" {
		t.Fatalf("expected b, got %q", entry.Counterparty())
	}
	entry.RequestedBy = "b"
	if entry.Counterparty() != "a" {
		t.Fatalf("expected a, got %q", entry.Counterparty())
	}
	entry.RequestedBy = "c"
	if entry.Counterparty() != "" {
		t.Fatalf("expected no counterparty for outsider")
	}
}

func TestAccountIDsDeduplicates(t *testing.T) {
	entry := LedgerEntry{FromAccountID: strPtr("a"), ToAccountID: strPtr("a"), FeeAccountID: strPtr("fees")}
	ids := entry.AccountIDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "fees" {
		t.Fatalf("unexpected ids: %#v", ids)
	}
	if !entry.InvolvesAccount("fees") || entry.InvolvesAccount("b") {
		t.Fatalf("unexpected involvement result")
	}
}

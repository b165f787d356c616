package domain

// Book is the sub-ledger of an account a leg touches.
type Book string

const (
	BookMain       Book = "MAIN"
	BookFloat      Book = "FLOAT"
	BookCommission Book = "COMMISSION"
)

// BookFor returns the book a party of the given role pays from and is paid into.
func BookFor(role Role) Book {
	if role == RoleAgent {
		return BookFloat
	}
	return BookMain
}

type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// Leg is one side of a multi-leg ledger transfer. Amount is always positive.
type Leg struct {
	Account   AccountRef `json:"account"`
	Book      Book       `json:"book"`
	Amount    int64      `json:"amount"`
	Direction Direction  `json:"direction"`
}

// Delta returns the signed balance change of the leg.
func (l Leg) Delta() int64 {
	if l.Direction == Debit {
		return -l.Amount
	}
	return l.Amount
}

// Balanced reports whether debits equal credits across the legs.
func Balanced(legs []Leg) bool {
	var sum int64
	for _, l := range legs {
		sum += l.Delta()
	}
	return sum == 0
}

package queue

import (
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestNextRetryIncrementsUntilBudgetSpent(t *testing.T) {
	job := TurnJob{TicketID: "t1", MessageID: "m1"}

	for want := 1; want <= 3; want++ {
		next, ok := job.NextRetry(3)
		if !ok {
			t.Fatalf("attempt %d refused, budget is 3", want)
		}
		if next.Attempts != want {
			t.Fatalf("Attempts = %d, want %d", next.Attempts, want)
		}
		job = next
	}

	if _, ok := job.NextRetry(3); ok {
		t.Fatalf("fourth retry granted, job must dead-letter instead")
	}
}

func TestDecodeCarriesAttemptsAcrossRedelivery(t *testing.T) {
	body, err := json.Marshal(TurnJob{TicketID: "t1", MessageID: "m1", Attempts: 2})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	job, err := Decode(amqp.Delivery{Body: body})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if job.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2: retry count must survive the round trip", job.Attempts)
	}
}

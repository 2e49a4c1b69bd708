// Package reconcile applies ERP webhook events to orders through a
// declarative transition table.
package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/imrishuroy/olie-orders/internal/orders"
)

// Webhook topics.
const (
	TopicPayments  = "payments"
	TopicFiscal    = "fiscal"
	TopicLogistics = "logistics"
	TopicOrders    = "orders"
)

var knownTopics = map[string]bool{
	TopicPayments:  true,
	TopicFiscal:    true,
	TopicLogistics: true,
	TopicOrders:    true,
}

// AnyEvent in Rule.Event matches every event of the topic that has no rule
// of its own.
const AnyEvent = ""

// Mutation computes the sub-document change an event makes to o.
type Mutation func(o *orders.Order, ev Event, now time.Time) orders.Patch

// Rule is one row of the transition table. Target is the status the order
// moves to when the lifecycle allows it; empty means no transition.
type Rule struct {
	Topic       string
	Event       string
	Mutate      Mutation
	Target      orders.Status
	Description string
}

// Patch evaluates the rule against o.
func (r Rule) Patch(o *orders.Order, ev Event, now time.Time) orders.Patch {
	var p orders.Patch
	if r.Mutate != nil {
		p = r.Mutate(o, ev, now)
	}
	if r.Target != "" && orders.CanTransition(o.Status, r.Target) {
		p.Status = r.Target
	}
	return p
}

// Table is a validated set of rules.
type Table struct {
	exact    map[string]map[string]Rule
	fallback map[string]Rule
	rules    []Rule
}

// NewTable validates rules: every topic known, no (topic, event) pair twice,
// at most one fallback per topic, every rule doing something, every target a
// real status. A topic without a fallback is strict: other events are unknown.
func NewTable(rules []Rule) (*Table, error) {
	t := &Table{
		exact:    map[string]map[string]Rule{},
		fallback: map[string]Rule{},
	}
	for i, r := range rules {
		if !knownTopics[r.Topic] {
			return nil, fmt.Errorf("rule %d: unknown topic %q", i, r.Topic)
		}
		if r.Mutate == nil && r.Target == "" {
			return nil, fmt.Errorf("rule %d (%s/%s): no mutation and no target", i, r.Topic, r.Event)
		}
		if r.Target != "" && !r.Target.Valid() {
			return nil, fmt.Errorf("rule %d (%s/%s): invalid target status %q", i, r.Topic, r.Event, r.Target)
		}
		if r.Event == AnyEvent {
			if _, dup := t.fallback[r.Topic]; dup {
				return nil, fmt.Errorf("rule %d: second fallback for topic %q", i, r.Topic)
			}
			t.fallback[r.Topic] = r
		} else {
			if t.exact[r.Topic] == nil {
				t.exact[r.Topic] = map[string]Rule{}
			}
			if _, dup := t.exact[r.Topic][r.Event]; dup {
				return nil, fmt.Errorf("rule %d: duplicate rule for %s/%s", i, r.Topic, r.Event)
			}
			t.exact[r.Topic][r.Event] = r
		}
		t.rules = append(t.rules, r)
	}
	return t, nil
}

// MustTable is NewTable for tables fixed at compile time.
func MustTable(rules []Rule) *Table {
	t, err := NewTable(rules)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup finds the rule for (topic, event).
func (t *Table) Lookup(topic, event string) (Rule, bool) {
	if r, ok := t.exact[topic][event]; ok {
		return r, true
	}
	r, ok := t.fallback[topic]
	return r, ok
}

// Rules returns the rules sorted by topic, exact events first.
func (t *Table) Rules() []Rule {
	out := append([]Rule(nil), t.rules...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		if (out[i].Event == AnyEvent) != (out[j].Event == AnyEvent) {
			return out[j].Event == AnyEvent
		}
		return out[i].Event < out[j].Event
	})
	return out
}

// DefaultTable is the production transition table.
func DefaultTable() *Table {
	return MustTable(defaultRules())
}

func defaultRules() []Rule {
	return []Rule{
		{
			Topic: TopicPayments, Event: "paid",
			Mutate:      setPaymentStatus(orders.PaymentPaid),
			Target:      orders.StatusPaid,
			Description: "payments[0].status=paid, stamp updatedAt",
		},
		{
			Topic: TopicPayments, Event: AnyEvent,
			Mutate:      setPaymentStatus(orders.PaymentFailed),
			Description: "payments[0].status=failed, stamp updatedAt",
		},
		{
			Topic: TopicFiscal, Event: "authorized",
			Mutate: func(o *orders.Order, ev Event, now time.Time) orders.Patch {
				f := fiscalOf(o)
				f.Status = "authorized"
				f.AuthorizedAt = &now
				return orders.Patch{Fiscal: f}
			},
			Target:      orders.StatusProduction,
			Description: "fiscal.status=authorized, stamp authorizedAt",
		},
		{
			Topic: TopicFiscal, Event: AnyEvent,
			Mutate: func(o *orders.Order, ev Event, now time.Time) orders.Patch {
				f := fiscalOf(o)
				f.Status = ev.Event
				return orders.Patch{Fiscal: f}
			},
			Description: "fiscal.status=<event>",
		},
		{
			Topic: TopicLogistics, Event: "label_created",
			Mutate:      setLogisticsStatus(false),
			Target:      orders.StatusShipping,
			Description: "logistics.status=<event>, stamp updatedAt",
		},
		{
			Topic: TopicLogistics, Event: "delivered",
			Mutate:      setLogisticsStatus(true),
			Target:      orders.StatusCompleted,
			Description: "logistics.status=<event>, stamp deliveredAt and updatedAt",
		},
		{
			Topic: TopicLogistics, Event: AnyEvent,
			Mutate:      setLogisticsStatus(false),
			Description: "logistics.status=<event>, stamp updatedAt",
		},
		{
			Topic: TopicOrders, Event: "cancelled",
			Target:      orders.StatusCancelled,
			Description: "no sub-document change",
		},
	}
}

func setPaymentStatus(status string) Mutation {
	return func(o *orders.Order, ev Event, now time.Time) orders.Patch {
		p := orders.Payment{CreatedAt: now}
		if cur := o.PrimaryPayment(); cur != nil {
			p = *cur
		}
		if p.ProviderRef == "" {
			p.ProviderRef = ev.ProviderRef
		}
		p.Status = status
		p.UpdatedAt = now
		return orders.Patch{Payments: o.WithPrimaryPayment(p)}
	}
}

func setLogisticsStatus(delivered bool) Mutation {
	return func(o *orders.Order, ev Event, now time.Time) orders.Patch {
		l := &orders.Logistics{CreatedAt: &now}
		if o.Logistics != nil {
			cp := *o.Logistics
			l = &cp
		}
		l.Status = ev.Event
		l.UpdatedAt = &now
		if delivered {
			l.DeliveredAt = &now
		}
		return orders.Patch{Logistics: l}
	}
}

func fiscalOf(o *orders.Order) *orders.Fiscal {
	if o.Fiscal == nil {
		return &orders.Fiscal{}
	}
	cp := *o.Fiscal
	return &cp
}

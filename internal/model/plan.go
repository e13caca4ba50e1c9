package model

// PlanType задаёт закрытое перечисление тарифов членства.
type PlanType string

const (
	PlanFanMonthly   PlanType = "fan_monthly"
	PlanVIPYearly    PlanType = "vip_yearly"
	PlanLifetimeOnce PlanType = "lifetime_once"
)

// CheckoutMode описывает режим сессии оплаты у провайдера.
type CheckoutMode string

const (
	ModePayment      CheckoutMode = "payment"
	ModeSubscription CheckoutMode = "subscription"
)

// Plan содержит параметры тарифа.
type Plan struct {
	Type     PlanType
	Mode     CheckoutMode
	Name     string
	Interval string
}

var plans = map[PlanType]Plan{
	PlanFanMonthly:   {Type: PlanFanMonthly, Mode: ModeSubscription, Name: "Fan Access", Interval: "month"},
	PlanVIPYearly:    {Type: PlanVIPYearly, Mode: ModeSubscription, Name: "VIP Status", Interval: "year"},
	PlanLifetimeOnce: {Type: PlanLifetimeOnce, Mode: ModePayment, Name: "Lifetime Fan"},
}

// LookupPlan возвращает параметры тарифа. ok=false для неизвестного значения.
func LookupPlan(t PlanType) (Plan, bool) {
	p, ok := plans[t]
	return p, ok
}

// Recurring сообщает, является ли тариф подпиской.
func (p Plan) Recurring() bool {
	return p.Mode == ModeSubscription
}

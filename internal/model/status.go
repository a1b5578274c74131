package model

// OrderStatus описывает статус заказа. Статусы хранятся целыми кодами,
// значения вне таблицы отклоняются на границе.
type OrderStatus int

const (
	OrderSearchExecutor       OrderStatus = 0
	OrderSelectingExecutor    OrderStatus = 1
	OrderExecutorSelected     OrderStatus = 2
	OrderInWork               OrderStatus = 3
	OrderAwaitingConfirmation OrderStatus = 4
	OrderClosed               OrderStatus = 5
	OrderCompleted            OrderStatus = 6
	OrderCancelled            OrderStatus = 7
	OrderRejected             OrderStatus = 8
	OrderDeleted              OrderStatus = 9
	OrderMediatorStep1        OrderStatus = 10
	OrderMediatorStep2        OrderStatus = 11
	OrderMediatorStep3        OrderStatus = 12
	OrderMediatorArchived     OrderStatus = 13
)

var orderStatusNames = map[OrderStatus]string{
	OrderSearchExecutor:       "search_executor",
	OrderSelectingExecutor:    "selecting_executor",
	OrderExecutorSelected:     "executor_selected",
	OrderInWork:               "in_work",
	OrderAwaitingConfirmation: "awaiting_confirmation",
	OrderClosed:               "closed",
	OrderCompleted:            "completed",
	OrderCancelled:            "cancelled",
	OrderRejected:             "rejected",
	OrderDeleted:              "deleted",
	OrderMediatorStep1:        "mediator_step_1",
	OrderMediatorStep2:        "mediator_step_2",
	OrderMediatorStep3:        "mediator_step_3",
	OrderMediatorArchived:     "mediator_archived",
}

// String возвращает строковое имя статуса заказа.
func (s OrderStatus) String() string {
	if name, ok := orderStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid сообщает, входит ли код статуса в таблицу допустимых значений.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatusNames[s]
	return ok
}

// Terminal сообщает, является ли статус конечным. Из конечного статуса
// переходы невозможны, включая мягкое удаление.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderClosed, OrderCompleted, OrderCancelled, OrderDeleted, OrderMediatorArchived:
		return true
	}
	return false
}

// orderTransitions задаёт таблицу допустимых переходов заказа.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderSearchExecutor:       {OrderSelectingExecutor, OrderExecutorSelected, OrderCancelled, OrderMediatorStep1, OrderDeleted},
	OrderSelectingExecutor:    {OrderExecutorSelected, OrderCancelled, OrderDeleted},
	OrderExecutorSelected:     {OrderInWork, OrderRejected, OrderDeleted},
	OrderInWork:               {OrderAwaitingConfirmation, OrderRejected, OrderDeleted},
	OrderAwaitingConfirmation: {OrderCompleted, OrderClosed, OrderInWork, OrderDeleted},
	OrderRejected:             {OrderInWork, OrderAwaitingConfirmation, OrderDeleted},
	OrderMediatorStep1:        {OrderMediatorStep2, OrderDeleted},
	OrderMediatorStep2:        {OrderMediatorStep3, OrderDeleted},
	OrderMediatorStep3:        {OrderMediatorArchived, OrderDeleted},
}

// CanTransitionTo сообщает, допустим ли переход заказа из статуса s в target.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, t := range orderTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// AllowsExecutor сообщает, может ли заказ в данном статусе иметь
// назначенного исполнителя. Исполнитель сохраняется в статусе Rejected,
// откуда заказ возвращается в работу, и в посреднической ветке, где
// посредник назначает исполнителя напрямую.
func (s OrderStatus) AllowsExecutor() bool {
	switch s {
	case OrderExecutorSelected, OrderInWork, OrderAwaitingConfirmation,
		OrderClosed, OrderCompleted, OrderRejected,
		OrderMediatorStep1, OrderMediatorStep2, OrderMediatorStep3, OrderMediatorArchived:
		return true
	}
	return false
}

// ResponseStatus описывает статус отклика исполнителя.
type ResponseStatus int

const (
	ResponseSent                    ResponseStatus = 0
	ResponseContactReceived         ResponseStatus = 1
	ResponseContactOpenedByExecutor ResponseStatus = 2
	ResponseOrderReceived           ResponseStatus = 3
	ResponseTakenIntoWork           ResponseStatus = 4
	ResponseRejected                ResponseStatus = 5
	ResponseDeleted                 ResponseStatus = 6
)

var responseStatusNames = map[ResponseStatus]string{
	ResponseSent:                    "sent",
	ResponseContactReceived:         "contact_received",
	ResponseContactOpenedByExecutor: "contact_opened_by_executor",
	ResponseOrderReceived:           "order_received",
	ResponseTakenIntoWork:           "taken_into_work",
	ResponseRejected:                "rejected",
	ResponseDeleted:                 "deleted",
}

// String возвращает строковое имя статуса отклика.
func (s ResponseStatus) String() string {
	if name, ok := responseStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid сообщает, входит ли код статуса в таблицу допустимых значений.
func (s ResponseStatus) Valid() bool {
	_, ok := responseStatusNames[s]
	return ok
}

// Open сообщает, является ли отклик действующим (не отклонён и не удалён).
func (s ResponseStatus) Open() bool {
	return s != ResponseRejected && s != ResponseDeleted
}

var responseTransitions = map[ResponseStatus][]ResponseStatus{
	ResponseSent:                    {ResponseContactReceived, ResponseOrderReceived, ResponseRejected, ResponseDeleted},
	ResponseContactReceived:         {ResponseContactOpenedByExecutor, ResponseOrderReceived, ResponseRejected, ResponseDeleted},
	ResponseContactOpenedByExecutor: {ResponseOrderReceived, ResponseRejected, ResponseDeleted},
	ResponseOrderReceived:           {ResponseTakenIntoWork, ResponseRejected, ResponseDeleted},
	ResponseTakenIntoWork:           {ResponseRejected, ResponseDeleted},
}

// CanTransitionTo сообщает, допустим ли переход отклика из статуса s в target.
func (s ResponseStatus) CanTransitionTo(target ResponseStatus) bool {
	for _, t := range responseTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

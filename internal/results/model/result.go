package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Permissions controls who may read an object written to durable storage.
type Permissions string

const (
	PermissionsPrivate           Permissions = "private"
	PermissionsPublicRead        Permissions = "public-read"
	PermissionsAuthenticatedRead Permissions = "authenticated-read"
)

// SecurityType identifies an asset class traded by a run.
type SecurityType string

const (
	SecurityTypeEquity SecurityType = "equity"
	SecurityTypeForex  SecurityType = "forex"
	SecurityTypeOption SecurityType = "option"
	SecurityTypeFuture SecurityType = "future"
	SecurityTypeCfd    SecurityType = "cfd"
	SecurityTypeCrypto SecurityType = "crypto"
	SecurityTypeIndex  SecurityType = "index"
)

// RunIdentity describes the run that a packet belongs to.
type RunIdentity struct {
	UserId    int    `json:"userId"`
	ProjectId int    `json:"projectId"`
	RunId     string `json:"runId"`
	BuildId   string `json:"buildId,omitempty"`
	Name      string `json:"name,omitempty"`
	UserToken string `json:"-"`
}

// ResultKey returns the storage key of the durable result for the run.
func (id RunIdentity) ResultKey() string {
	return fmt.Sprintf("%d/%d/%s.json", id.UserId, id.ProjectId, id.RunId)
}

// LogKey returns the storage key of the persisted log for the run.
func (id RunIdentity) LogKey() string {
	return fmt.Sprintf("%d/%d/%s-log.txt", id.UserId, id.ProjectId, id.RunId)
}

type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCanceled  OrderStatus = "canceled"
	OrderStatusInvalid   OrderStatus = "invalid"
)

// Order is a filled or otherwise terminal order supplied by the caller at final assembly.
type Order struct {
	Id       int             `json:"id"`
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Time     time.Time       `json:"time"`
	Status   OrderStatus     `json:"status"`
	Tag      string          `json:"tag,omitempty"`
}

// Result is the payload of a result packet. A delta result only holds what changed since the previous
// packet, a complete result holds the full accumulated state.
type Result struct {
	Charts            map[string]*Chart             `json:"charts"`
	Orders            map[int]Order                 `json:"orders"`
	ProfitLoss        map[time.Time]decimal.Decimal `json:"profitLoss"`
	Statistics        map[string]string             `json:"statistics"`
	RuntimeStatistics map[string]string             `json:"runtimeStatistics"`
}

func NewResult() Result {
	return Result{
		Charts:            map[string]*Chart{},
		Orders:            map[int]Order{},
		ProfitLoss:        map[time.Time]decimal.Decimal{},
		Statistics:        map[string]string{},
		RuntimeStatistics: map[string]string{},
	}
}

// PointCount returns the total number of chart points in the result.
func (r Result) PointCount() int {
	n := 0
	for _, chart := range r.Charts {
		n += chart.PointCount()
	}
	return n
}

// ResultPacket wraps a Result with the identity and progress of its run.
type ResultPacket struct {
	PacketId       string      `json:"packetId"`
	Identity       RunIdentity `json:"identity"`
	PeriodStart    time.Time   `json:"periodStart"`
	PeriodFinish   time.Time   `json:"periodFinish"`
	Progress       float64     `json:"progress"`
	ProcessingTime float64     `json:"processingTime"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
	Results        Result      `json:"results"`
}

// WithCharts returns a shallow copy of the packet carrying charts in place of its own.
func (p *ResultPacket) WithCharts(charts map[string]*Chart) *ResultPacket {
	clone := *p
	clone.Results.Charts = charts
	return &clone
}

type DebugPacket struct {
	Identity RunIdentity `json:"identity"`
	Message  string      `json:"message"`
}

type SecurityTypesPacket struct {
	Identity RunIdentity    `json:"identity"`
	Types    []SecurityType `json:"types"`
}

type RuntimeErrorPacket struct {
	Identity   RunIdentity `json:"identity"`
	Message    string      `json:"message"`
	StackTrace string      `json:"stackTrace,omitempty"`
}

type HandledErrorPacket struct {
	Identity   RunIdentity `json:"identity"`
	Message    string      `json:"message"`
	StackTrace string      `json:"stackTrace,omitempty"`
}

// LogAllowance is the log quota available to a user.
type LogAllowance struct {
	PerRunCap      int64 `json:"perRunCap"`
	PerDayCap      int64 `json:"perDayCap"`
	RemainingToday int64 `json:"remainingToday"`
}

// Quota returns the number of log bytes a single run may persist.
func (a LogAllowance) Quota() int64 {
	if a.RemainingToday < a.PerRunCap {
		if a.RemainingToday < 0 {
			return 0
		}
		return a.RemainingToday
	}
	return a.PerRunCap
}

// LogUsage records how much of the allowance a run consumed.
type LogUsage struct {
	UserId    int    `json:"userId"`
	RunId     string `json:"runId"`
	Url       string `json:"url"`
	BytesUsed int64  `json:"bytesUsed"`
	UserToken string `json:"-"`
	Truncated bool   `json:"truncated"`
}

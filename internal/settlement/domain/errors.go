package domain

import "errors"

var (
	// ErrVersionConflict 乐观并发冲突：写入携带的版本与存储中的版本不一致。
	// 永远上报给调用方，绝不静默合并。
	ErrVersionConflict = errors.New("settlement: version conflict")

	// ErrInvalidTransition 非法状态流转。
	ErrInvalidTransition = errors.New("settlement: invalid status transition")

	// ErrTerminalState 终态指令（SETTLED / CANCELLED）不再接受任何变更。
	// 与校验错误区分，便于调用方判断"输入有误"还是"指令已不可变"。
	ErrTerminalState = errors.New("settlement: instruction in terminal state")

	// ErrInstructionNotFound 指令不存在。
	ErrInstructionNotFound = errors.New("settlement: instruction not found")

	// ErrBreakAlreadyResolved 对账差异只允许 open -> resolved 单向流转。
	ErrBreakAlreadyResolved = errors.New("settlement: reconciliation break already resolved")
)

// FailureReason 交收失败原因
type FailureReason string

const (
	FailInsufficientSecurities FailureReason = "INSUFFICIENT_SECURITIES"
	FailInsufficientCash       FailureReason = "INSUFFICIENT_CASH"
	FailAccountBlocked         FailureReason = "ACCOUNT_BLOCKED"
	FailInstructionError       FailureReason = "INSTRUCTION_ERROR"
	FailSystemError            FailureReason = "SYSTEM_ERROR"
	FailCounterpartyFail       FailureReason = "COUNTERPARTY_FAIL"
	FailMissingDocumentation   FailureReason = "MISSING_DOCUMENTATION"
	FailRegulatoryHold         FailureReason = "REGULATORY_HOLD"
	FailCorporateAction        FailureReason = "CORPORATE_ACTION"
)

// FailurePolicy 失败原因对应的默认处置策略
type FailurePolicy int8

const (
	// PolicyHoldAndRetry 挂起并在复核可用性后重试。
	PolicyHoldAndRetry FailurePolicy = 1
	// PolicyEscalate 升级到运营人工处理，不自动重试。
	PolicyEscalate FailurePolicy = 2
	// PolicyAmend 指令本身有误，应走修改流程而非盲目重试。
	PolicyAmend FailurePolicy = 3
)

func (p FailurePolicy) String() string {
	switch p {
	case PolicyHoldAndRetry:
		return "HOLD_AND_RETRY"
	case PolicyEscalate:
		return "ESCALATE"
	case PolicyAmend:
		return "AMEND"
	default:
		return "UNKNOWN"
	}
}

var failurePolicies = map[FailureReason]FailurePolicy{
	FailInsufficientSecurities: PolicyHoldAndRetry,
	FailInsufficientCash:       PolicyHoldAndRetry,
	FailCounterpartyFail:       PolicyHoldAndRetry,
	FailAccountBlocked:         PolicyEscalate,
	FailRegulatoryHold:         PolicyEscalate,
	FailSystemError:            PolicyEscalate,
	FailMissingDocumentation:   PolicyEscalate,
	FailCorporateAction:        PolicyEscalate,
	FailInstructionError:       PolicyAmend,
}

// DefaultPolicy 返回失败原因的默认处置策略。
func (r FailureReason) DefaultPolicy() FailurePolicy {
	if p, ok := failurePolicies[r]; ok {
		return p
	}
	return PolicyEscalate
}

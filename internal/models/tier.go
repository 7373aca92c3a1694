package models

type Tier string

const (
	TierFree       Tier = "FREE"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierEnterprise:
		return true
	default:
		return false
	}
}

type Algorithm string

const (
	AlgorithmTokenBucket   Algorithm = "TOKEN_BUCKET"
	AlgorithmSlidingWindow Algorithm = "SLIDING_WINDOW"
)

func (a Algorithm) Valid() bool {
	return a == AlgorithmTokenBucket || a == AlgorithmSlidingWindow
}

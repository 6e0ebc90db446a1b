package sso

// Recorder はSSOトークンのライフサイクルを計測するインターフェース。
type Recorder interface {
	TokenIssued(partner string)
	TokenRedeemed()
	RedeemFailed(reason string)
}

type nopRecorder struct{}

func (nopRecorder) TokenIssued(string)  {}
func (nopRecorder) TokenRedeemed()      {}
func (nopRecorder) RedeemFailed(string) {}

package service

// Default settlement constants, overridable through config.
const (
	DefaultTransferFee = 5
	DefaultUpgradeCost = 1

	platformFeePercent   = 15
	referralSharePercent = 20
)

// PlatformFee is the marketplace cut of a sale: 15% of price, rounded down.
func PlatformFee(price int) int {
	return price * platformFeePercent / 100
}

// SellerPayout is what the seller receives after the platform fee.
func SellerPayout(price int) int {
	return price - PlatformFee(price)
}

// ReferralBonus is the referrer's cut: 20% of the platform fee, rounded down
// after the fee itself was rounded down.
func ReferralBonus(price int) int {
	return PlatformFee(price) * referralSharePercent / 100
}

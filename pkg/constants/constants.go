package constants

import "time"

const (
	DelayBetweenRPCCalls      = 200              // delay in milliseconds between RPC calls
	TransactionReceiptTimeout = 10 * time.Second // timeout for a single transaction lookup
	TLSHandshakeTimeout       = 10 * time.Second // timeout for TLS handshake
	ResponseHeaderTimeout     = 20 * time.Second // timeout for response header
	ExpectContinueTimeout     = 1 * time.Second  // timeout for expect continue
	MaxRetries                = 3                // maximum number of attempts per transaction lookup
	MaxResponseBodySize       = 10 * 1024 * 1024 // maximum response body size in bytes (10MB)
)

// Payment negotiation
const (
	X402Version                  = 1
	SchemeExact                  = "exact"
	NativeAsset                  = "native" // asset sentinel for the chain's native coin
	PaymentHeader                = "X-PAYMENT"
	PaymentResponseHeader        = "X-PAYMENT-RESPONSE"
	MaxPaymentHeaderSize         = 4096 // bytes of encoded header accepted before decoding
	DefaultPaymentTimeoutSeconds = 300
)

// Settlement math
const (
	BasisPointsDenominator   = 10000
	VerificationToleranceBps = 100 // 1% band absorbing fee deduction quirks
)

// Webhook delivery
const (
	WebhookTimeout            = 10 * time.Second
	WebhookBaseBackoff        = 1 * time.Second
	DefaultWebhookMaxAttempts = 3
	WebhookSignatureHeader    = "X-Knowpay-Signature"
	WebhookEventHeader        = "X-Knowpay-Event"
	MaxWebhookEvents          = 10
)

// Webhook event names
const (
	EventPurchaseCompleted = "purchase.completed"
	EventReviewCreated     = "review.created"
	EventListingPublished  = "listing.published"
)

var WebhookEvents = []string{
	EventPurchaseCompleted,
	EventReviewCreated,
	EventListingPublished,
}

// Token identifiers accepted by the settlement endpoint
const (
	TokenNative = "native"
	TokenUSDC   = "usdc"
)

const (
	USDCDecimals     = 6
	LamportsDecimals = 9
	WeiDecimals      = 18
)

// Network Types
const (
	NetworkBase         = "base"
	NetworkBaseSepolia  = "base-sepolia"
	NetworkSolana       = "solana"
	NetworkSolanaDevnet = "solana-devnet"
)

const (
	USDCAddressBase         = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	USDCAddressBaseSepolia  = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	USDCAddressSolana       = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCAddressSolanaDevnet = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

var NetworkToUSDCAddress = map[string]string{
	NetworkBase:         USDCAddressBase,
	NetworkBaseSepolia:  USDCAddressBaseSepolia,
	NetworkSolana:       USDCAddressSolana,
	NetworkSolanaDevnet: USDCAddressSolanaDevnet,
}

// mapping from network name to numeric chain ID
var NetworkToChainID = map[string]int64{
	NetworkBase:        8453,
	NetworkBaseSepolia: 84532,
}

// NativeSymbol is the display symbol of each network's native coin
var NativeSymbol = map[string]string{
	NetworkBase:         "ETH",
	NetworkBaseSepolia:  "ETH",
	NetworkSolana:       "SOL",
	NetworkSolanaDevnet: "SOL",
}

// TestnetNetworks lists networks whose RPC endpoints must not point at a mainnet cluster
var TestnetNetworks = map[string]bool{
	NetworkBaseSepolia:  true,
	NetworkSolanaDevnet: true,
}

var OfficialRPCEndpoints = map[string][]string{
	NetworkBase:         {"https://mainnet.base.org"},
	NetworkBaseSepolia:  {"https://sepolia.base.org"},
	NetworkSolana:       {"https://api.mainnet-beta.solana.com"},
	NetworkSolanaDevnet: {"https://api.devnet.solana.com"},
}

// HTTP surface
const (
	UserIDHeader   = "X-User-ID" // caller identity set by the upstream gateway
	AccessCacheTTL = 10 * time.Minute
)

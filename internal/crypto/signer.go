package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// EIP-712 type hashes (keccak256 of the canonical type strings).
var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// Order(uint256 salt,address makerAsset,address takerAsset,address maker,uint256 makingAmount,uint256 takingAmount,uint256 expiry)
	limitOrderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address makerAsset,address takerAsset,address maker,uint256 makingAmount,uint256 takingAmount,uint256 expiry)"),
	)
)

const (
	domainName    = "Limit Order Protocol"
	domainVersion = "4"
)

// Signer produces EIP-712 signatures for limit orders on one chain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key. The
// verifying contract is the limit order protocol deployment on chainID.
func NewSigner(privateKeyHex string, chainID int64, verifyingContract string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	if !common.IsHexAddress(verifyingContract) {
		return nil, fmt.Errorf("crypto/signer: invalid verifying contract %q", verifyingContract)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
		domainSep:  buildDomainSeparator(chainID, common.HexToAddress(verifyingContract)),
	}, nil
}

// Address returns the maker address derived from the private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer's domain separator is bound to.
func (s *Signer) ChainID() int64 {
	return s.chainID
}

// SignOrder signs o and returns the hex-encoded 65-byte signature. The order
// maker must be the signer's address.
func (s *Signer) SignOrder(o domain.LimitOrder) (string, error) {
	if !strings.EqualFold(o.Maker, s.address.Hex()) {
		return "", fmt.Errorf("crypto/signer: maker %s is not signer %s: %w", o.Maker, s.address.Hex(), domain.ErrSigningFailed)
	}
	if o.ChainID != s.chainID {
		return "", fmt.Errorf("crypto/signer: order chain %d, signer chain %d: %w", o.ChainID, s.chainID, domain.ErrSigningFailed)
	}
	structHash, err := OrderStructHash(o)
	if err != nil {
		return "", err
	}
	return s.signDigest(eip712Hash(s.domainSep, structHash))
}

// Recover returns the address that produced sig over o.
func (s *Signer) Recover(o domain.LimitOrder, sig string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil || len(raw) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: malformed signature: %w", domain.ErrSigningFailed)
	}
	structHash, err := OrderStructHash(o)
	if err != nil {
		return common.Address{}, err
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(eip712Hash(s.domainSep, structHash), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// OrderStructHash encodes and hashes o according to EIP-712.
func OrderStructHash(o domain.LimitOrder) ([]byte, error) {
	salt, ok := new(big.Int).SetString(o.Salt, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid salt %q", o.Salt)
	}
	if o.MakingAmount == nil || o.TakingAmount == nil {
		return nil, fmt.Errorf("crypto/signer: order %s has no amounts", o.ID)
	}
	expiry := big.NewInt(0)
	if !o.ExpiresAt.IsZero() {
		expiry = big.NewInt(o.ExpiresAt.Unix())
	}

	return ethcrypto.Keccak256(
		concatBytes(
			limitOrderTypeHash,
			bigIntTo32Bytes(salt),
			common.LeftPadBytes(common.HexToAddress(o.MakerAsset).Bytes(), 32),
			common.LeftPadBytes(common.HexToAddress(o.TakerAsset).Bytes(), 32),
			common.LeftPadBytes(common.HexToAddress(o.Maker).Bytes(), 32),
			bigIntTo32Bytes(o.MakingAmount),
			bigIntTo32Bytes(o.TakingAmount),
			bigIntTo32Bytes(expiry),
		),
	), nil
}

// OrderHash identifies o on its chain: keccak256(chainId || structHash),
// hex encoded. Identical submissions hash to the same id.
func OrderHash(o domain.LimitOrder) (string, error) {
	structHash, err := OrderStructHash(o)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(ethcrypto.Keccak256(bigIntTo32Bytes(big.NewInt(o.ChainID)), structHash)), nil
}

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash,
// versionHash, chainId, verifyingContract)).
func buildDomainSeparator(chainID int64, verifyingContract common.Address) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			bigIntTo32Bytes(big.NewInt(chainID)),
			common.LeftPadBytes(verifyingContract.Bytes(), 32),
		),
	)
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w: %w", domain.ErrSigningFailed, err)
	}
	// go-ethereum returns v in {0,1}; EIP-712 verifiers expect {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}

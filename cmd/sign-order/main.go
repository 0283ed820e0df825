package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/okamiya/dexrig/pkg/crypto"
	"github.com/okamiya/dexrig/pkg/venue/meridex"
)

// Builds, signs and verifies one meridex order by hand. Useful to poke the
// venue without running the whole connector.
func main() {
	// Step 1: Generate or load key
	var signer *crypto.Signer
	var err error
	if keyHex := os.Getenv("WALLET_KEY"); keyHex != "" {
		signer, err = crypto.FromPrivateKeyHex(keyHex)
	} else {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	// Step 2: Describe the order
	market := "ETH_FXC"
	side := "buy"
	typ := "limit"
	amount := "16000000"
	price := "0.00000001"
	nonce := time.Now().UnixMicro()

	fmt.Println("Order Details:")
	fmt.Printf("  Market: %s\n", market)
	fmt.Printf("  Side: %s\n", side)
	fmt.Printf("  Type: %s\n", typ)
	fmt.Printf("  Amount: %s\n", amount)
	fmt.Printf("  Price: %s\n", price)
	fmt.Printf("  Nonce: %d\n\n", nonce)

	// Step 3: Sign the canonical digest
	digest := meridex.OrderDigest(market, side, typ, amount, price, nonce, signer.AddressHex())
	signature, err := signer.SignDigest(digest)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Digest: 0x%x\n", digest)
	fmt.Printf("Signature: 0x%x\n\n", signature)

	// Step 4: Assemble the wire request
	req := meridex.PlaceOrderRequest{
		Market:    market,
		Side:      side,
		Type:      typ,
		Amount:    amount,
		Price:     price,
		Nonce:     nonce,
		Address:   signer.AddressHex(),
		Signature: "0x" + hex.EncodeToString(signature),
		ClientID:  fmt.Sprintf("manual-%d", nonce),
	}
	reqJSON, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Signed Order (JSON):")
	fmt.Println(string(reqJSON))
	fmt.Println()

	// Step 5: Verify by recovering the signer
	fmt.Println("Verifying signature...")
	recovered, err := crypto.RecoverAddress(digest, signature)
	if err != nil {
		fmt.Printf("Error verifying: %v\n", err)
		os.Exit(1)
	}
	if recovered != signer.Address() {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Signer: %s\n\n", recovered.Hex())

	// Step 6: Show how to submit to the venue
	venueURL := os.Getenv("VENUE_URL")
	if venueURL == "" {
		venueURL = "http://localhost:8780"
	}
	fmt.Println("To submit this order:")
	fmt.Printf("  POST %s/v1/orders\n", venueURL)
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(reqJSON))
}

// Command keygen writes an RSA key pair as PEM files and prints its kid.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"shopfront.io/internal/keys"
)

func main() {
	log.SetFlags(0)
	var (
		out  = flag.String("out", ".", "Output directory")
		name = flag.String("name", "access", "File name prefix")
		bits = flag.Int("bits", 2048, "RSA modulus size")
	)
	flag.Parse()

	if *bits < 2048 {
		log.Fatal("bits must be at least 2048")
	}
	priv, err := keys.GenerateRSA(*bits)
	if err != nil {
		log.Fatalf("generate: %v", err)
	}
	privPEM, err := keys.EncodePrivateKeyPEM(priv)
	if err != nil {
		log.Fatalf("encode private key: %v", err)
	}
	pubPEM, err := keys.EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		log.Fatalf("encode public key: %v", err)
	}
	kid, err := keys.DeriveIdentifier(&priv.PublicKey)
	if err != nil {
		log.Fatalf("derive kid: %v", err)
	}

	if err := os.MkdirAll(*out, 0o700); err != nil {
		log.Fatalf("mkdir: %v", err)
	}
	privPath := filepath.Join(*out, *name+"_private.pem")
	pubPath := filepath.Join(*out, *name+"_public.pem")
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		log.Fatalf("write %s: %v", privPath, err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		log.Fatalf("write %s: %v", pubPath, err)
	}
	fmt.Printf("kid=%s\nprivate=%s\npublic=%s\n", kid, privPath, pubPath)
}

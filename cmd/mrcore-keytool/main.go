// mrcore-keytool exercises Component D/A's OpenPGP primitives from the
// command line: keygen, armor-split, Autocrypt Setup Message
// construction/recovery, and sender-key cache inspection.
//
// Usage:
//
//	mrcore-keytool keygen <addr>
//	mrcore-keytool armor-split < block.asc
//	mrcore-keytool make-setup-message <addr> [passphrase] < private-key.asc
//	mrcore-keytool read-setup-message <code> < setup-message.asc
//	mrcore-keytool list-sender-keys <db-path>
//	mrcore-keytool delete-sender-key <db-path> <id>
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/msgcore/mrcore/internal/armor"
	"github.com/msgcore/mrcore/internal/credentials"
	"github.com/msgcore/mrcore/internal/dbx"
	"github.com/msgcore/mrcore/internal/pgp"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "keygen":
		err = cmdKeygen(os.Args[2:])
	case "armor-split":
		err = cmdArmorSplit(os.Args[2:])
	case "make-setup-message":
		err = cmdMakeSetupMessage(os.Args[2:])
	case "read-setup-message":
		err = cmdReadSetupMessage(os.Args[2:])
	case "list-sender-keys":
		err = cmdListSenderKeys(os.Args[2:])
	case "delete-sender-key":
		err = cmdDeleteSenderKey(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mrcore-keytool: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mrcore-keytool keygen|armor-split|make-setup-message|read-setup-message|list-sender-keys|delete-sender-key ...")
}

func cmdKeygen(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("keygen requires exactly one address argument")
	}
	addr := args[0]

	pub, priv, err := pgp.CreateKeypair(addr)
	if err != nil {
		return fmt.Errorf("create keypair: %w", err)
	}
	armoredPub, err := pgp.ArmorKey(pub)
	if err != nil {
		return fmt.Errorf("armor public key: %w", err)
	}
	armoredPriv, err := pgp.ArmorKey(priv)
	if err != nil {
		return fmt.Errorf("armor private key: %w", err)
	}
	fp, err := pgp.CalcFingerprintHex(pub)
	if err != nil {
		return fmt.Errorf("fingerprint: %w", err)
	}

	fmt.Printf("# fingerprint: %s\n", fp)
	fmt.Print(armoredPub)
	fmt.Print(armoredPriv)

	if store := credentials.NewStore(); store.Available() {
		if err := store.Set(addr+".fingerprint", fp); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not cache fingerprint in keyring: %v\n", err)
		}
	}
	return nil
}

func cmdArmorSplit(args []string) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	block, err := armor.Split(string(data))
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(block)
}

func cmdMakeSetupMessage(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("make-setup-message requires an address argument and an optional passphrase")
	}
	addr := args[0]
	var passphrase string
	if len(args) == 2 {
		passphrase = args[1]
	}

	armoredPriv, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	priv, info, err := pgp.ImportKey(armoredPriv, passphrase)
	if err != nil {
		return fmt.Errorf("import private key: %w", err)
	}
	if !info.HasPrivate {
		return fmt.Errorf("no private key found in input")
	}

	code, err := pgp.GenerateSetupCode()
	if err != nil {
		return fmt.Errorf("generate setup code: %w", err)
	}
	msg, err := pgp.MakeSetupMessage(priv, code)
	if err != nil {
		return fmt.Errorf("make setup message: %w", err)
	}

	fmt.Fprintf(os.Stderr, "setup code: %s\n", code)
	fmt.Print(string(msg))

	if store := credentials.NewStore(); store.Available() {
		if err := store.Set(addr+".setup-code", code); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not cache setup code in keyring: %v\n", err)
		}
	}
	return nil
}

func cmdReadSetupMessage(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("read-setup-message requires exactly one setup code argument")
	}
	code := args[0]

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	key, err := pgp.ReadSetupMessage(data, code)
	if err != nil {
		return fmt.Errorf("read setup message: %w", err)
	}
	armored, err := pgp.ArmorKey(key)
	if err != nil {
		return fmt.Errorf("armor recovered key: %w", err)
	}
	fmt.Print(armored)
	return nil
}

func cmdListSenderKeys(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("list-sender-keys requires exactly one db-path argument")
	}
	db, err := dbx.Open(args[0])
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	keys, err := pgp.NewKeyStore(db.DB).ListSenderKeys()
	if err != nil {
		return fmt.Errorf("list sender keys: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(keys)
}

func cmdDeleteSenderKey(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("delete-sender-key requires a db-path and an id argument")
	}
	db, err := dbx.Open(args[0])
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if err := pgp.NewKeyStore(db.DB).DeleteSenderKey(args[1]); err != nil {
		return fmt.Errorf("delete sender key %s: %w", args[1], err)
	}
	return nil
}

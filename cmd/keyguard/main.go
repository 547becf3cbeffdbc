// keyguard is a watch-only wallet over the Electrum protocol: it tracks
// the addresses of an extended public key, reconciles their histories
// into balances and coins, and assembles unsigned transactions for an
// external signer.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/lunanimous/keyguard/config"
	"github.com/lunanimous/keyguard/internal/chain"
	"github.com/lunanimous/keyguard/internal/discovery"
	"github.com/lunanimous/keyguard/internal/electrum"
	"github.com/lunanimous/keyguard/internal/engine"
	"github.com/lunanimous/keyguard/internal/ledger"
	"github.com/lunanimous/keyguard/internal/log"
	"github.com/lunanimous/keyguard/internal/storage"
	"github.com/lunanimous/keyguard/internal/wallet"
	"github.com/lunanimous/keyguard/pkg/types"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "init":
		cmdInit(args)
	case "sync":
		cmdSync(args)
	case "balance":
		cmdBalance(args)
	case "history":
		cmdHistory(args)
	case "utxos":
		cmdUTXOs(args)
	case "send":
		cmdSend(args)
	case "watch":
		cmdWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("keyguard version %s\n", version)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: keyguard <command> [flags]

Commands:
  init [--import]                 Derive a watch-only xpub from a mnemonic
  sync                            Run one full wallet sync
  balance                         Sync and show the wallet balance
  history                         Sync and show all known transactions
  utxos                           Sync and list spendable outputs
  send --to <addr> --amount <sat> Assemble an unsigned transaction
  watch                           Sync, then follow live updates
  version                         Show version information

Common flags (sync, balance, history, utxos, send, watch):
  --network <net>        mainnet (default) or testnet
  --datadir <path>       Data directory (default: ~/.keyguard)
  --config <path>        Config file path
  --server <host:port>   Electrum server address
  --xpub <xpub>          Account extended public key to watch
  --script-type <type>   legacy, nested-segwit or native-segwit
  --gap-limit <n>        Unused-address lookahead window
  --fee-rate <sat/vB>    Fee rate for send
`)
}

// app wires the transport, facade, discovery, ledger and storage for
// one command invocation.
type app struct {
	cfg  *config.Config
	conn *electrum.Conn
	kc   *wallet.Keychain
	disc *discovery.Engine
	eng  *engine.Engine
	db   storage.DB
}

func newApp(ctx context.Context, args []string) *app {
	cfg, _, err := config.Load(args)
	if err != nil {
		fatal("%v", err)
	}
	return newAppFromConfig(ctx, cfg)
}

func newAppFromConfig(ctx context.Context, cfg *config.Config) *app {
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fatal("init logging: %v", err)
	}

	if cfg.Wallet.XPub == "" {
		fatal("wallet.xpub is not configured (run keyguard init, then add the xpub to %s)", cfg.ConfigFile())
	}
	st, err := wallet.ParseScriptType(cfg.Wallet.ScriptType)
	if err != nil {
		fatal("%v", err)
	}
	kc, err := wallet.NewKeychainFromXPub(cfg.Wallet.XPub, st, cfg.ChainParams())
	if err != nil {
		fatal("%v", err)
	}

	conn := electrum.New(electrum.Config{
		Addr:          cfg.Server.Addr,
		TLS:           cfg.Server.TLS,
		TLSSkipVerify: cfg.Server.TLSSkipVerify,
		KeepAlive:     time.Duration(cfg.Server.KeepAliveSeconds) * time.Second,
	})
	if err := conn.Connect(ctx); err != nil {
		fatal("connect to %s: %v", cfg.Server.Addr, err)
	}

	client := chain.NewClient(conn, cfg.ChainParams())
	software, protocol, err := client.ServerVersion(ctx, "keyguard "+version, "1.4")
	if err != nil {
		fatal("server handshake: %v", err)
	}
	log.Engine.Info().Str("server", software).Str("protocol", protocol).Msg("connected")

	db, err := storage.NewBadger(cfg.WalletDir())
	if err != nil {
		fatal("%v", err)
	}

	disc := discovery.NewEngine(kc, client, cfg.Wallet.GapLimit)
	eng := engine.New(client, disc, ledger.New(), storage.NewPrefixDB(db, []byte("ledger/")))
	if err := eng.Restore(); err != nil {
		fatal("restore ledger: %v", err)
	}

	return &app{cfg: cfg, conn: conn, kc: kc, disc: disc, eng: eng, db: db}
}

func (a *app) close() {
	if err := a.conn.Close(); err != nil {
		log.Engine.Warn().Err(err).Msg("close connection")
	}
	if err := a.db.Close(); err != nil {
		log.Engine.Warn().Err(err).Msg("close database")
	}
}

func (a *app) sync(ctx context.Context) {
	if err := a.eng.Sync(ctx); err != nil {
		fatal("sync: %v", err)
	}
}

func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	importExisting := fs.Bool("import", false, "Derive from an existing mnemonic instead of generating one")
	network := fs.String("network", "mainnet", "mainnet or testnet")
	scriptType := fs.String("script-type", "native-segwit", "legacy, nested-segwit or native-segwit")
	account := fs.Uint("account", 0, "Account number")
	fs.Parse(args)

	st, err := wallet.ParseScriptType(*scriptType)
	if err != nil {
		fatal("%v", err)
	}
	cfg := config.Default(config.NetworkType(*network))

	var mnemonic string
	if *importExisting {
		fmt.Fprint(os.Stderr, "Enter mnemonic: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			fatal("read mnemonic: %v", err)
		}
		mnemonic = strings.TrimSpace(line)
		if !wallet.ValidateMnemonic(mnemonic) {
			fatal("invalid mnemonic")
		}
	} else {
		mnemonic, err = wallet.GenerateMnemonic()
		if err != nil {
			fatal("generate mnemonic: %v", err)
		}
		fmt.Println("Mnemonic (write this down!):")
		fmt.Printf("  %s\n\n", mnemonic)
	}

	passphrase, err := readPassword("BIP-39 passphrase (empty for none): ")
	if err != nil {
		fatal("read passphrase: %v", err)
	}
	seed, err := wallet.SeedFromMnemonic(mnemonic, string(passphrase))
	if err != nil {
		fatal("%v", err)
	}

	kc, err := wallet.NewKeychainFromSeed(seed, uint32(*account), st, cfg.ChainParams())
	if err != nil {
		fatal("%v", err)
	}
	first, err := kc.DeriveKey(types.External, 0)
	if err != nil {
		fatal("%v", err)
	}

	fmt.Printf("Account xpub:  %s\n", kc.AccountXPub())
	fmt.Printf("First address: %s\n\n", first.Address)
	fmt.Printf("Add to %s:\n", cfg.ConfigFile())
	fmt.Printf("  wallet.xpub = %s\n", kc.AccountXPub())
	fmt.Printf("  wallet.script_type = %s\n", st)
}

func cmdSync(args []string) {
	ctx := context.Background()
	a := newApp(ctx, args)
	defer a.close()

	a.sync(ctx)
	bal := a.eng.Balance()
	fmt.Printf("Synced %d transactions.\n", len(a.eng.History()))
	fmt.Printf("Balance: %d confirmed, %d unconfirmed (satoshis)\n", bal.Confirmed, bal.Unconfirmed)
}

func cmdBalance(args []string) {
	ctx := context.Background()
	a := newApp(ctx, args)
	defer a.close()

	a.sync(ctx)
	printJSON(a.eng.Balance())
}

func cmdHistory(args []string) {
	ctx := context.Background()
	a := newApp(ctx, args)
	defer a.close()

	a.sync(ctx)
	printJSON(a.eng.History())
}

func cmdUTXOs(args []string) {
	ctx := context.Background()
	a := newApp(ctx, args)
	defer a.close()

	a.sync(ctx)
	printJSON(a.eng.UTXOs())
}

// unsignedTxOut is the send command's output: everything an external
// signer needs.
type unsignedTxOut struct {
	UnsignedTx    string              `json:"unsigned_tx"`
	Signers       []wallet.SignerInfo `json:"signers"`
	Fee           int64               `json:"fee"`
	Change        int64               `json:"change,omitempty"`
	ChangeAddress string              `json:"change_address,omitempty"`
}

func cmdSend(args []string) {
	fs, flags := config.NewFlagSet("send")
	to := fs.String("to", "", "Destination address")
	amount := fs.Int64("amount", 0, "Amount in satoshis")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	flags.Finish(fs)
	if *to == "" || *amount <= 0 {
		fatal("Usage: keyguard send --to <addr> --amount <satoshis> [common flags]")
	}
	cfg, err := config.Build(flags)
	if err != nil {
		fatal("%v", err)
	}

	ctx := context.Background()
	a := newAppFromConfig(ctx, cfg)
	defer a.close()

	a.sync(ctx)

	builder := wallet.NewBuilder(a.kc, a.disc, a.cfg.ChainParams(), a.cfg.Wallet.FeeRate)
	changeIndex := a.disc.NextUnusedIndex(types.Internal)
	unsigned, err := builder.MakeTransaction(a.eng.UTXOs(), []wallet.Payment{{Address: *to, Value: *amount}}, changeIndex)
	if err != nil {
		fatal("%v", err)
	}

	var buf bytes.Buffer
	if err := unsigned.Tx.Serialize(&buf); err != nil {
		fatal("serialize transaction: %v", err)
	}
	printJSON(unsignedTxOut{
		UnsignedTx:    hex.EncodeToString(buf.Bytes()),
		Signers:       unsigned.Signers,
		Fee:           unsigned.Fee,
		Change:        unsigned.Change,
		ChangeAddress: unsigned.ChangeAddress,
	})
}

func cmdWatch(args []string) {
	ctx := context.Background()
	a := newApp(ctx, args)
	defer a.close()

	a.sync(ctx)
	if err := a.eng.Watch(ctx); err != nil {
		fatal("watch: %v", err)
	}
	fmt.Fprintln(os.Stderr, "Watching for updates (ctrl-c to stop)...")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("encode output: %v", err)
	}
	fmt.Println(string(out))
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

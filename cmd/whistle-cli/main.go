package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	gateway := os.Getenv("WHISTLECHAIN_URL")
	if gateway == "" {
		gateway = "http://localhost:8080"
	}

	switch os.Args[1] {
	case "wallet":
		cmdWallet(gateway)
	case "stake":
		cmdStake(gateway)
	case "submit":
		cmdSubmit(gateway)
	case "status":
		cmdStatus(gateway)
	case "ticket":
		cmdTicket(gateway)
	case "public":
		cmdPublic(gateway)
	case "health":
		getAndPrint(gateway + "/health")
	case "version":
		fmt.Printf("whistle-cli v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`WhistleChain CLI v` + version + `

Usage: whistle <command> [flags]

Commands:
  wallet    Create an anonymous burner wallet
  stake     Show stake requirements and bounty rates
  submit    Submit evidence files
  status    Show an evidence item and its verification state
  ticket    Build a sealed verdict commitment (inspectors)
  public    List the public evidence record
  health    Check coordinator and node health
  version   Print version
  help      Show this help

Environment:
  WHISTLECHAIN_URL   Coordinator URL (default: http://localhost:8080)

Examples:
  whistle wallet
  whistle stake
  whistle submit --file invoice.pdf --category FINANCIAL --org "ABC Corp" --desc "Inflated invoices" --stake 25000000
  whistle status --id EVD-2026-00001
  whistle ticket --verdict 1`)
}

func cmdWallet(gateway string) {
	postAndPrint(gateway+"/api/v1/wallets", map[string]interface{}{})
}

func cmdStake(gateway string) {
	getAndPrint(gateway + "/api/v1/stake/requirements")
}

func cmdSubmit(gateway string) {
	var file, category, org, desc, mnemonic string
	var stake uint64

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--file", "-f":
			i++
			if i < len(args) {
				file = args[i]
			}
		case "--category", "-c":
			i++
			if i < len(args) {
				category = args[i]
			}
		case "--org", "-o":
			i++
			if i < len(args) {
				org = args[i]
			}
		case "--desc", "-d":
			i++
			if i < len(args) {
				desc = args[i]
			}
		case "--stake", "-s":
			i++
			if i < len(args) {
				stake, _ = strconv.ParseUint(args[i], 10, 64)
			}
		case "--mnemonic", "-m":
			i++
			if i < len(args) {
				mnemonic = args[i]
			}
		}
	}

	if file == "" || category == "" || org == "" {
		fmt.Fprintln(os.Stderr, "Error: --file, --category and --org are required")
		os.Exit(1)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", file, err)
		os.Exit(1)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", filepath.Base(file))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	fw.Write(data)
	mw.WriteField("category", category)
	mw.WriteField("organization", org)
	mw.WriteField("description", desc)
	mw.WriteField("stake_microalgos", strconv.FormatUint(stake, 10))
	if mnemonic != "" {
		mw.WriteField("mnemonic", mnemonic)
	}
	mw.Close()

	resp, err := http.Post(gateway+"/api/v1/evidence", mw.FormDataContentType(), &buf)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	printResponse(resp)

	fmt.Fprintln(os.Stderr, "\nSave the mnemonic and encryption key above. They are shown exactly once.")
}

func cmdStatus(gateway string) {
	id := flagValue("--id")
	if id == "" {
		fmt.Fprintln(os.Stderr, "Error: --id is required")
		os.Exit(1)
	}
	fmt.Println("# Submission")
	getAndPrint(gateway + "/api/v1/evidence/" + id)
	fmt.Println("# Verification")
	getAndPrint(gateway + "/api/v1/verification/" + id)
}

func cmdTicket(gateway string) {
	raw := flagValue("--verdict")
	verdict, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: --verdict must be 1 (authentic), 2 (fake) or 3 (inconclusive)")
		os.Exit(1)
	}
	postAndPrint(gateway+"/api/v1/verification/commit-ticket", map[string]interface{}{
		"verdict": verdict,
		"nonce":   flagValue("--nonce"),
	})
}

func cmdPublic(gateway string) {
	getAndPrint(gateway + "/api/v1/public/evidence")
}

// ----------------------------------------------------------------
// plumbing
// ----------------------------------------------------------------

func flagValue(name string) string {
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		if args[i] == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func getAndPrint(url string) {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	printResponse(resp)
}

func postAndPrint(url string, body interface{}) {
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	printResponse(resp)
}

func printResponse(resp *http.Response) {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		os.Stdout.Write(raw)
		fmt.Println()
		return
	}
	fmt.Println(pretty.String())

	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

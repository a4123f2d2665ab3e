package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowAPIKeyGuide explains how to create a Civitai API key
func ShowAPIKeyGuide(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "CIVITAI API KEY GUIDE")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Public images download without a key. A key lets the API apply your")
	fmt.Fprintln(w, "account's content settings and gives more generous rate limits.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "STEP 1: Sign in at https://civitai.com")
	fmt.Fprintln(w, "STEP 2: Open your account settings (avatar menu > Settings)")
	fmt.Fprintln(w, "STEP 3: Scroll to 'API Keys' and choose 'Add API key'")
	fmt.Fprintln(w, "STEP 4: Name it (for example \"civitscraper\") and copy the key")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Other ways to provide the key, highest priority first:")
	fmt.Fprintln(w, "   --api-key <key>")
	fmt.Fprintf(w, "   %s=<key>\n", APIKeyEnv)
	fmt.Fprintln(w, "   an account saved with 'civitscraper auth login'")
	fmt.Fprintf(w, "   a %s file in the working directory\n", DefaultKeyFile)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "SECURITY WARNING:")
	fmt.Fprintln(w, "   The key acts as your account. Never share it; revoke it from the")
	fmt.Fprintln(w, "   same settings page if it leaks.")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
}

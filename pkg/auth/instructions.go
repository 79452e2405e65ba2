package auth

import (
	"fmt"
	"strings"
)

// TokenURL opens the OAuth consent page for a registered application
func TokenURL(clientID string) string {
	if clientID == "" {
		clientID = "<client_id>"
	}
	return "https://oauth.yandex.ru/authorize?response_type=token&client_id=" + clientID
}

// ShowTokenGuide prints how to obtain a Webmaster API token
func ShowTokenGuide(clientID string) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("YANDEX WEBMASTER API TOKEN")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	fmt.Println("STEP 1: Register an application")
	fmt.Println("   - Go to https://oauth.yandex.ru/client/new")
	fmt.Println("   - Under permissions add Yandex.Webmaster: 'Get information about sites'")
	fmt.Println("   - Copy the ClientID of the new application")
	fmt.Println()

	fmt.Println("STEP 2: Authorize it for the account that owns the sites")
	fmt.Printf("   - Open %s\n", TokenURL(clientID))
	fmt.Println("   - Confirm access; the token is shown on the next page")
	fmt.Println()

	fmt.Println("TIPS:")
	fmt.Println("   - The token grants read access to every site of the account")
	fmt.Println("   - It is stored in the system keychain or an encrypted file, never in plain text")
	fmt.Println("   - WMHARVEST_TOKEN overrides stored tokens for CI use")
	fmt.Println()
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()
}

package symbols

import (
	"fmt"
	"sort"
)

// Universe represents a predefined stock universe
type Universe string

const (
	UniverseNifty50   Universe = "nifty50"
	UniverseBankNifty Universe = "banknifty"
	UniverseTest      Universe = "test" // Small set for testing
)

// GetUniverse returns the list of symbols for a given universe
func GetUniverse(u Universe) ([]string, error) {
	switch u {
	case UniverseNifty50:
		return clone(Nifty50Symbols), nil
	case UniverseBankNifty:
		return clone(BankNiftySymbols), nil
	case UniverseTest:
		return clone(TestSymbols), nil
	default:
		return nil, fmt.Errorf("unknown universe %q (available: %v)", u, Universes())
	}
}

// Universes lists the known universe names
func Universes() []string {
	out := []string{string(UniverseNifty50), string(UniverseBankNifty), string(UniverseTest)}
	sort.Strings(out)
	return out
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}

// TestSymbols is a small set for quick testing
var TestSymbols = []string{
	"RELIANCE", "TCS", "HDFCBANK", "INFY", "ICICIBANK",
	"SBIN", "ITC", "LT", "BHARTIARTL", "TATAMOTORS",
}

// Nifty50Symbols is the NIFTY 50 constituent list (NSE tickers, 2024)
var Nifty50Symbols = []string{
	"ADANIENT", "ADANIPORTS", "APOLLOHOSP", "ASIANPAINT", "AXISBANK",
	"BAJAJ-AUTO", "BAJFINANCE", "BAJAJFINSV", "BPCL", "BHARTIARTL",
	"BRITANNIA", "CIPLA", "COALINDIA", "DIVISLAB", "DRREDDY",
	"EICHERMOT", "GRASIM", "HCLTECH", "HDFCBANK", "HDFCLIFE",
	"HEROMOTOCO", "HINDALCO", "HINDUNILVR", "ICICIBANK", "ITC",
	"INDUSINDBK", "INFY", "JSWSTEEL", "KOTAKBANK", "LTIM",
	"LT", "M&M", "MARUTI", "NTPC", "NESTLEIND",
	"ONGC", "POWERGRID", "RELIANCE", "SBILIFE", "SHRIRAMFIN",
	"SBIN", "SUNPHARMA", "TCS", "TATACONSUM", "TATAMOTORS",
	"TATASTEEL", "TECHM", "TITAN", "ULTRACEMCO", "WIPRO",
}

// BankNiftySymbols is the NIFTY BANK constituent list
var BankNiftySymbols = []string{
	"AUBANK", "AXISBANK", "BANDHANBNK", "BANKBARODA", "FEDERALBNK", "HDFCBANK",
	"ICICIBANK", "IDFCFIRSTB", "INDUSINDBK", "KOTAKBANK", "PNB", "SBIN",
}

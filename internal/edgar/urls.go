package edgar

import (
	"fmt"
	"strings"
	"time"
)

// BaseURL is the root of the disclosure archive.
const BaseURL = "https://www.sec.gov"

// TickerMapURL is the archive's ticker-to-CIK reference file.
const TickerMapURL = BaseURL + "/files/company_tickers.json"

// QuarterOf maps a date to the archive's 1-based quarter directory.
func QuarterOf(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

// SubmissionURL builds the complete-submission text URL for a filing.
func SubmissionURL(cik int64, accession string) string {
	return fmt.Sprintf("%s/Archives/edgar/data/%d/%s.txt", BaseURL, cik, accession)
}

// DocumentURL builds the URL of one document inside a filing directory.
func DocumentURL(cik int64, accession, filename string) string {
	return fmt.Sprintf("%s/Archives/edgar/data/%d/%s/%s",
		BaseURL, cik, strings.ReplaceAll(accession, "-", ""), filename)
}

// ArchivePath resolves an archive-relative source path to a full URL.
func ArchivePath(sourcePath string) string {
	return BaseURL + "/Archives/" + strings.TrimPrefix(sourcePath, "/")
}

// QuarterlyIndexURL builds the master index URL for one year/quarter.
func QuarterlyIndexURL(year, quarter int) string {
	return fmt.Sprintf("%s/Archives/edgar/full-index/%d/QTR%d/master.idx", BaseURL, year, quarter)
}

// DailyIndexDirURL builds the daily-index directory listing URL for the
// quarter containing day.
func DailyIndexDirURL(day time.Time) string {
	return fmt.Sprintf("%s/Archives/edgar/daily-index/%d/QTR%d/", BaseURL, day.Year(), QuarterOf(day))
}

// DailyIndexURL builds the master index URL for a single day.
func DailyIndexURL(day time.Time) string {
	return fmt.Sprintf("%smaster.%s.idx", DailyIndexDirURL(day), day.Format("20060102"))
}

// MonthlyIndexURL builds the month-level structured-data index URL.
func MonthlyIndexURL(year int, month time.Month) string {
	return fmt.Sprintf("%s/Archives/edgar/monthly/xbrlrss-%d-%02d.xml", BaseURL, year, int(month))
}

// RecentFilingsURL builds the real-time latest-filings feed URL. formType
// may be empty; count caps the number of entries returned.
func RecentFilingsURL(formType string, count int) string {
	if count <= 0 {
		count = 100
	}
	return fmt.Sprintf("%s/cgi-bin/browse-edgar?action=getcurrent&type=%s&company=&dateb=&owner=include&count=%d&output=atom",
		BaseURL, formType, count)
}

// AccessionFromPath extracts the accession number from an archive-relative
// path such as "edgar/data/320193/0000320193-23-000106.txt". Returns an
// empty string when no accession-shaped component is present.
func AccessionFromPath(path string) string {
	base := path
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	base = strings.TrimSuffix(base, ".txt")
	if AccessionPattern.MatchString(base) {
		return base
	}
	return ""
}

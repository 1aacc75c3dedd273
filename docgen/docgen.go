// Package docgen is the default DocumentGenerator: it writes a plain-text
// deposit receipt to local disk. Real deployments swap in the PDF
// rendering service behind the same interface.
package docgen

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zaprent/depositapi/models"
)

type FileGenerator struct {
	dir string
}

func NewFileGenerator(dir string) (*FileGenerator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create document dir: %w", err)
	}
	return &FileGenerator{dir: dir}, nil
}

// Generate writes the receipt and returns its path.
func (g *FileGenerator) Generate(contract *models.DepositContract) (string, error) {
	paidAt := ""
	if contract.PaidAt != nil {
		paidAt = contract.PaidAt.Format("2006-01-02 15:04:05")
	}

	content := fmt.Sprintf(
		"DEPOSIT RECEIPT\n\nContract: %s\nProperty: %s\nTenant: %s\nLandlord: %s\nAmount: %s\nChannel: %s\nPaid at: %s\n",
		contract.ContractCode,
		contract.PropertyName,
		contract.TenantName,
		contract.LandlordName,
		contract.Amount.StringFixed(2),
		contract.Channel,
		paidAt,
	)

	path := filepath.Join(g.dir, contract.ContractCode+".txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write receipt: %w", err)
	}
	return path, nil
}

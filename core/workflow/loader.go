package workflow

import (
	"io/fs"
	"os"

	"github.com/hellobchain/limsflow/common/constant"
	"github.com/hellobchain/limsflow/common/models"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type definitionsFile struct {
	Workflows []models.WorkflowDefinition `yaml:"workflows"`
}

// Parse 解析 YAML 格式的流程定义
func Parse(data []byte) ([]models.WorkflowDefinition, error) {
	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parse workflow definitions")
	}
	for i := range file.Workflows {
		if err := Validate(&file.Workflows[i]); err != nil {
			return nil, err
		}
	}
	return file.Workflows, nil
}

// LoadFile 读取流程定义文件并逐个注册到 registry
func LoadFile(registry *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read workflow definitions %s", path)
	}
	defs, err := Parse(data)
	if err != nil {
		return errors.WithMessage(err, path)
	}
	for _, def := range defs {
		if _, err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// SaveStatus 把业务类型的启用状态写回流程定义文件. 文件中没有该业务类型时,
// 追加 registry 中的最新定义; 文件不存在时新建.
func SaveStatus(registry *Registry, path string, businessType constant.BusinessType, disabled bool) error {
	var file definitionsFile
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return errors.Wrapf(err, "read workflow definitions %s", path)
	default:
		if err := yaml.Unmarshal(data, &file); err != nil {
			return errors.Wrapf(err, "parse workflow definitions %s", path)
		}
	}

	// 文件中同一业务类型可能有多个版本, 以最后一个为准
	last := -1
	for i := range file.Workflows {
		if file.Workflows[i].BusinessType == businessType {
			last = i
		}
	}
	if last >= 0 {
		file.Workflows[last].Disabled = disabled
	} else {
		def, err := registry.Current(businessType)
		if err != nil {
			return err
		}
		def.Version = 0
		def.Disabled = disabled
		file.Workflows = append(file.Workflows, *def)
	}

	out, err := yaml.Marshal(&file)
	if err != nil {
		return errors.Wrap(err, "encode workflow definitions")
	}
	return errors.Wrapf(os.WriteFile(path, out, 0o644), "write workflow definitions %s", path)
}
